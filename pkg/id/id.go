package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator mints identifiers. Services hold one so tests can swap in a
// deterministic sequence.
type Generator func() string

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string used as the local key of broker account rows.
// IDs minted within the same millisecond stay lexicographically increasing.
func New() string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// TransactionLen is the length of a correlation token.
const TransactionLen = 32

// Transaction returns a fresh correlation token: 32 lowercase hex chars
// taken from a random UUID. One token covers one provisioning sequence and
// is resent on every retry round.
func Transaction() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
