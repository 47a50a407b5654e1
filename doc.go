/*
Package docdb implements an embedded document store on top of an
ordered key-value engine (in this case, on top of Bolt, or an in-memory
B-tree for tests and ephemeral stores).

We implement:

1. Collections, holding arbitrary client-encoded documents addressed by
a primary key.

2. Secondary indices, ordered B-tree style, maintained automatically on
insert/update/delete, optionally unique.

3. Spatial indices over rectangles, for containment queries.

4. Raw maps, exposing untyped byte buckets with string keys, and
singleton keys within them, below the Collection abstraction.

# Technical details

**Backends.** Collections never talk to Bolt (or any other engine)
directly. They talk to KVBackend, a small ordered-map interface with
two implementations: boltBackend (on disk) and memBackend (in memory,
backed by a github.com/tidwall/btree B-tree). A backend map exposes
first/last/floor/ceiling/higher/lower neighbor lookups by key value
plus point get/put/delete; nothing about prefix iteration, uniqueness,
or ranges is backend-specific.

**Keys.** Keys are immutable byte strings, ordered lexicographically,
with two sentinels (Start, End) that bound every real key. Composite
keys are built by concatenating big-endian encodings of ints, longs,
timestamps, and raw string bytes, most-significant part first.

**Codecs.** A Collection is opened with a client-supplied Codec: it
knows how to encode/decode the client's row type and how to derive a
Key for each declared ordered or spatial index. There is no reflection
here; the client writes its own KeyGen/BoundsOf functions.

**Secondary index storage.** Unique indices store the index key directly,
mapping to the primary key's bytes. Non-unique indices suffix the index
key with the primary key, so that duplicates remain distinguishable
while keeping the physical key ordered the way the logical key would be.

**Autocommit buffering.** Raw-map singleton writes (Tx.SetRawKey) can
accumulate in an in-memory, checksummed buffer (package wal, adapted
from a teacher WAL implementation) before being flushed into the
backend as one transaction; see Options.AutoCommitBufferKB and
AutoCommitDelayMS. Collection writes always commit synchronously,
since a unique-index violation has to surface in the same call that
caused it.
*/
package docdb
