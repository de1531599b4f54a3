package bot

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

var (
	ErrAccountExists   = errors.New("user with this IBAN or name already exists")
	ErrNameRequired    = errors.New("user name is required")
	ErrNegativeBalance = errors.New("initial balance must not be negative")
)

// ibanBankCode is the Greek bank and branch prefix of generated accounts.
const ibanBankCode = "0110125"

// Account is a registered bank customer.
type Account struct {
	Name    string  `json:"name"`
	IBAN    string  `json:"iban"`
	Balance float64 `json:"balance"`
}

// Registry is an in-memory account book with unique names and IBANs.
type Registry struct {
	mu     sync.Mutex
	byName map[string]Account
	ibans  map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Account),
		ibans:  make(map[string]struct{}),
	}
}

// Register opens an account for name with a freshly generated Greek IBAN.
// Names are unique ignoring case.
func (r *Registry) Register(name string, balance float64) (Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Account{}, ErrNameRequired
	}
	if balance < 0 {
		return Account{}, ErrNegativeBalance
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(name)
	if _, ok := r.byName[key]; ok {
		return Account{}, ErrAccountExists
	}

	var iban string
	for {
		generated, err := newGreekIBAN()
		if err != nil {
			return Account{}, fmt.Errorf("failed to generate IBAN: %w", err)
		}
		if _, taken := r.ibans[generated]; !taken {
			iban = generated
			break
		}
	}

	account := Account{Name: name, IBAN: iban, Balance: balance}
	r.byName[key] = account
	r.ibans[iban] = struct{}{}
	return account, nil
}

// Lookup finds an account by name, ignoring case.
func (r *Registry) Lookup(name string) (Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return account, ok
}

func newGreekIBAN() (string, error) {
	var account strings.Builder
	for range 16 {
		digit, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		account.WriteByte(byte('0' + digit.Int64()))
	}

	bban := ibanBankCode + account.String()
	check := 98 - ibanMod97(bban+"GR00")
	return fmt.Sprintf("GR%02d%s", check, bban), nil
}

// ValidIBAN checks the ISO 13616 mod-97 checksum.
func ValidIBAN(iban string) bool {
	iban = strings.ToUpper(strings.ReplaceAll(iban, " ", ""))
	if len(iban) < 5 {
		return false
	}
	return ibanMod97(iban[4:]+iban[:4]) == 1
}

// ibanMod97 computes the remainder of the rearranged IBAN, letters mapped to
// 10..35. Characters outside [0-9A-Z] make the result invalid.
func ibanMod97(s string) int {
	rem := 0
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			rem = (rem*10 + int(c-'0')) % 97
		case c >= 'A' && c <= 'Z':
			rem = (rem*100 + int(c-'A') + 10) % 97
		default:
			return -1
		}
	}
	return rem
}
