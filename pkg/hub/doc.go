/*
Package hub composes the ingestion engine.

A Hub owns the framework database, the state machine, the scan and process
hubs, the event broker, and one shared interruption token. Every reported
event flows through the broker, so any number of consumers can subscribe
via EventBroker without slowing the ingestion. Scan runs a full ingestion pass:
leftover tasks from an interrupted run drain first, every base is scanned
in parallel, the resulting task graph processes to quiescence, and the
machine returns to SETTING. RemoveKnowledgeBase cleans a base's resources,
drains the emitted removal work, then deletes the base.
*/
package hub
