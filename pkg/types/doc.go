/*
Package types defines the data model shared by every layer of the engine:
the tagged Field value, the Record it composes into, Schema, the Operation
stream variants, and the small integer/pair handles (PortHandle,
NodeHandle) that name a position in the DAG.

None of these types know about channels, storage, or workers — they are
pure data, encoded and compared the same way regardless of which layer is
holding them.

# Field ordering

Field defines a total order so that primary-key writers can use its byte
encoding directly as a B-tree key:

	int, uint, float, decimal, boolean, string, binary, timestamp, date,
	null, geo, json    (ordered first by FieldType tag, then by value)

Encode() produces this order-preserving form; EncodeRecord/DecodeRecord
produce a separate, more compact self-describing form for a writer's
stored value, since a value doesn't need to sort.
*/
package types
