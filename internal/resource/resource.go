// Package resource identifies the lockable entities of the database: the
// global resource, databases, collections, metadata and named mutexes.
package resource

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/spaolacci/murmur3"
)

// Type is the kind of a lockable resource. The order of the types is the
// order in which resources sort, which is also the acquisition order.
type Type uint8

// Resource types.
const (
	TypeInvalid Type = iota
	TypeGlobal
	// TypeFlush serializes journal flushes in the legacy storage engine.
	TypeFlush
	TypeDatabase
	TypeCollection
	TypeMetadata
	TypeMutex

	// TypeCount is the number of resource types, TypeInvalid included.
	TypeCount
)

var typeNames = [TypeCount]string{
	"Invalid",
	"Global",
	"MMAPV1Journal",
	"Database",
	"Collection",
	"Metadata",
	"Mutex",
}

// String returns the name of the type.
func (t Type) String() string {
	if t >= TypeCount {
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
	return typeNames[t]
}

// ErrUnknownType is returned by ParseType for a name no type carries.
var ErrUnknownType = errors.New("unknown resource type")

// ParseType returns the type with the given name.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if t != int(TypeInvalid) && n == name {
			return Type(t), nil
		}
	}
	return TypeInvalid, errors.Wrapf(ErrUnknownType, "%q", name)
}

const (
	typeBits = 3
	hashMask = math.MaxUint64 >> typeBits
)

// Hash ids of the singleton resources.
const (
	singletonInvalid uint64 = iota
	singletonParallelBatchWriterMode
	singletonGlobal
	singletonFlush
)

// ID is a 64 bit resource identifier. The top bits carry the Type and the
// rest carry a hash of the resource name, so ids order by type first.
type ID uint64

// Invalid is the zero ID.
const Invalid ID = 0

// Well known resources.
var (
	// ParallelBatchWriterMode is taken by secondaries applying
	// replicated batches. It sorts before Global.
	ParallelBatchWriterMode = FromHash(TypeGlobal, singletonParallelBatchWriterMode)
	Global                  = FromHash(TypeGlobal, singletonGlobal)
	Flush                   = FromHash(TypeFlush, singletonFlush)

	LocalDB = New(TypeDatabase, "local")
	AdminDB = New(TypeDatabase, "admin")
	Oplog   = New(TypeCollection, "local.oplog.rs")
)

// FromHash builds an ID from a type and an already computed hash.
func FromHash(t Type, hashID uint64) ID {
	return ID(uint64(t)<<(64-typeBits) | (hashID & hashMask))
}

// New returns the ID of the named resource of the given type. The name is
// remembered in a bounded label cache, when its shard is not busy, so
// that String can render it.
func New(t Type, name string) ID {
	h1, _ := murmur3.Sum128([]byte(name))
	id := FromHash(t, h1)
	rememberLabel(id, name)
	return id
}

// Database returns the ID of the database lock.
func Database(db string) ID {
	return New(TypeDatabase, db)
}

// Collection returns the ID of the collection lock of a full namespace,
// for example "test.users".
func Collection(ns string) ID {
	return New(TypeCollection, ns)
}

// Metadata returns the ID of a metadata lock.
func Metadata(name string) ID {
	return New(TypeMetadata, name)
}

// Type returns the type of the resource.
func (id ID) Type() Type {
	return Type(uint64(id) >> (64 - typeBits))
}

// HashID returns the name hash part of the id.
func (id ID) HashID() uint64 {
	return uint64(id) & hashMask
}

// IsValid returns false for the Invalid resource.
func (id ID) IsValid() bool {
	return id.Type() != TypeInvalid
}

// String renders the id as "{<id>: <type>, <hash>[, <name>]}".
func (id ID) String() string {
	if name, ok := Label(id); ok {
		return fmt.Sprintf("{%d: %s, %d, %s}", uint64(id), id.Type(), id.HashID(), name)
	}
	return fmt.Sprintf("{%d: %s, %d}", uint64(id), id.Type(), id.HashID())
}

// NamespaceDB returns the database part of a namespace.
func NamespaceDB(ns string) string {
	for i := 0; i < len(ns); i++ {
		if ns[i] == '.' {
			return ns[:i]
		}
	}
	return ns
}
