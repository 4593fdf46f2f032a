package broker

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a connected broker account.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusActive       Status = "ACTIVE"
	StatusDisconnected Status = "DISCONNECTED"
	StatusError        Status = "ERROR"
)

func (s Status) Valid() bool {
	switch s {
	case StatusInitializing, StatusActive, StatusDisconnected, StatusError:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown broker status %q", s)
	}
	return st, nil
}

// Supported trading platforms.
const (
	PlatformMT4 = "mt4"
	PlatformMT5 = "mt5"
)

var ErrMissingFields = errors.New("missing required broker fields")

// Credentials are the MetaTrader details a user submits to connect an
// account.
type Credentials struct {
	AccountNumber string // MetaTrader login
	Password      string
	BrokerName    string
	Platform      string // mt4 | mt5
	Server        string
}

// Normalize trims every field and lowercases the platform.
func (c Credentials) Normalize() Credentials {
	return Credentials{
		AccountNumber: strings.TrimSpace(c.AccountNumber),
		Password:      strings.TrimSpace(c.Password),
		BrokerName:    strings.TrimSpace(c.BrokerName),
		Platform:      strings.ToLower(strings.TrimSpace(c.Platform)),
		Server:        strings.TrimSpace(c.Server),
	}
}

// Validate expects normalized credentials.
func (c Credentials) Validate() error {
	var missing []string
	if c.AccountNumber == "" {
		missing = append(missing, "accountNumber")
	}
	if c.BrokerName == "" {
		missing = append(missing, "brokerName")
	}
	if c.Platform == "" {
		missing = append(missing, "platform")
	}
	if c.Server == "" {
		missing = append(missing, "server")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}
	if c.Platform != PlatformMT4 && c.Platform != PlatformMT5 {
		return fmt.Errorf("unsupported platform %q (want mt4|mt5)", c.Platform)
	}
	return nil
}

// Account is the local record of a provisioned broker connection. RemoteID
// is the provider's account id and is unique across records.
type Account struct {
	ID            string
	RemoteID      string
	UserID        string
	BrokerName    string
	Platform      string
	Server        string
	AccountNumber string
	Status        Status
	CreatedAt     time.Time
	LastSyncedAt  time.Time
}

// AccountFields are the mutable attributes written by an upsert.
type AccountFields struct {
	BrokerName    string
	Platform      string
	Server        string
	AccountNumber string
	Status        Status
}

// Fields returns the credentials' record fields with the given status.
func (c Credentials) Fields(st Status) AccountFields {
	return AccountFields{
		BrokerName:    c.BrokerName,
		Platform:      c.Platform,
		Server:        c.Server,
		AccountNumber: c.AccountNumber,
		Status:        st,
	}
}
