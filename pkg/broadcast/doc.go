/*
Package broadcast implements the engine's only fan-out boundary: the
bridge from the Executor to external API consumers. Every other edge in
the system is a bounded point-to-point channel owned by exec.Sender and
exec.Receiver; this is the one place many independent, possibly slow
readers attach to the same feed.

Broker keeps each subscriber's buffer bounded and drops operations a lagging
subscriber can't keep up with rather than blocking the engine — the engine
itself never observes back-pressure from the API layer. Schema events are
the exception: they are kept in a snapshot map and replayed in full to
every new subscriber on Subscribe, so a client that joins late still
learns every endpoint's schema before it could possibly see an Op event
that depends on one.
*/
package broadcast
