package credit

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"creditline/crypto"
	"creditline/storage"
)

const (
	keyMarketIndex   = "credit/markets"
	keyMarketFmt     = "credit/market/%s"
	keyFeeFmt        = "credit/fees/%s"
	keyPositionFmt   = "credit/position/%s/%s"
	keyCreditLineFmt = "credit/line/%s/%s"
	keyPremiumFmt    = "credit/premium/%s/%s"
	keyObligationFmt = "credit/obligation/%s/%s"
	keyMarkdownFmt   = "credit/markdown/%s/%s"
)

// Store persists engine records as JSON documents in a key-value database.
// It implements the engine's state interface. Writes issued between
// StageWrites and CommitWrites are collected into a single batch so the
// database applies them atomically.
type Store struct {
	db    storage.Database
	batch *storage.Batch
}

// NewStore wraps a database as engine state.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func addrKey(addr crypto.Address) string {
	return hex.EncodeToString(addr.Bytes())
}

func (s *Store) get(key string, out interface{}) (bool, error) {
	raw, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) put(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if s.batch != nil {
		s.batch.Put([]byte(key), raw)
		return nil
	}
	return s.db.Put([]byte(key), raw)
}

func (s *Store) delete(key string) error {
	if s.batch != nil {
		s.batch.Delete([]byte(key))
		return nil
	}
	return s.db.Delete([]byte(key))
}

// StageWrites starts collecting subsequent writes into a batch. Reads keep
// going to the database, so callers must finish loading before staging.
func (s *Store) StageWrites() {
	s.batch = new(storage.Batch)
}

// CommitWrites applies every staged write in one atomic database batch.
func (s *Store) CommitWrites() error {
	batch := s.batch
	s.batch = nil
	return s.db.Write(batch)
}

// DiscardWrites drops any staged writes without touching the database.
func (s *Store) DiscardWrites() {
	s.batch = nil
}

func (s *Store) GetMarket(marketID string) (*Market, error) {
	market := &Market{}
	ok, err := s.get(fmt.Sprintf(keyMarketFmt, marketID), market)
	if err != nil || !ok {
		return nil, err
	}
	return market, nil
}

func (s *Store) PutMarket(marketID string, market *Market) error {
	if err := s.put(fmt.Sprintf(keyMarketFmt, marketID), market); err != nil {
		return err
	}
	return s.indexMarket(marketID)
}

func (s *Store) indexMarket(marketID string) error {
	ids, err := s.ListMarkets()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == marketID {
			return nil
		}
	}
	ids = append(ids, marketID)
	sort.Strings(ids)
	return s.put(keyMarketIndex, ids)
}

func (s *Store) ListMarkets() ([]string, error) {
	var ids []string
	if _, err := s.get(keyMarketIndex, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) GetPosition(marketID string, addr crypto.Address) (*Position, error) {
	position := &Position{}
	ok, err := s.get(fmt.Sprintf(keyPositionFmt, marketID, addrKey(addr)), position)
	if err != nil || !ok {
		return nil, err
	}
	position.Address = addr
	return position, nil
}

func (s *Store) PutPosition(marketID string, position *Position) error {
	if position == nil {
		return nil
	}
	return s.put(fmt.Sprintf(keyPositionFmt, marketID, addrKey(position.Address)), position)
}

func (s *Store) GetCreditLine(marketID string, addr crypto.Address) (*CreditLine, error) {
	line := &CreditLine{}
	ok, err := s.get(fmt.Sprintf(keyCreditLineFmt, marketID, addrKey(addr)), line)
	if err != nil || !ok {
		return nil, err
	}
	line.Address = addr
	return line, nil
}

func (s *Store) PutCreditLine(marketID string, line *CreditLine) error {
	if line == nil {
		return nil
	}
	return s.put(fmt.Sprintf(keyCreditLineFmt, marketID, addrKey(line.Address)), line)
}

func (s *Store) GetPremium(marketID string, addr crypto.Address) (*BorrowerPremium, error) {
	premium := &BorrowerPremium{}
	ok, err := s.get(fmt.Sprintf(keyPremiumFmt, marketID, addrKey(addr)), premium)
	if err != nil || !ok {
		return nil, err
	}
	premium.Address = addr
	return premium, nil
}

func (s *Store) PutPremium(marketID string, premium *BorrowerPremium) error {
	if premium == nil {
		return nil
	}
	return s.put(fmt.Sprintf(keyPremiumFmt, marketID, addrKey(premium.Address)), premium)
}

func (s *Store) GetObligation(marketID string, addr crypto.Address) (*RepaymentObligation, error) {
	obligation := &RepaymentObligation{}
	ok, err := s.get(fmt.Sprintf(keyObligationFmt, marketID, addrKey(addr)), obligation)
	if err != nil || !ok {
		return nil, err
	}
	obligation.Address = addr
	return obligation, nil
}

func (s *Store) PutObligation(marketID string, obligation *RepaymentObligation) error {
	if obligation == nil {
		return nil
	}
	return s.put(fmt.Sprintf(keyObligationFmt, marketID, addrKey(obligation.Address)), obligation)
}

func (s *Store) DeleteObligation(marketID string, addr crypto.Address) error {
	return s.delete(fmt.Sprintf(keyObligationFmt, marketID, addrKey(addr)))
}

func (s *Store) GetMarkdownState(marketID string, addr crypto.Address) (*MarkdownState, error) {
	markdown := &MarkdownState{}
	ok, err := s.get(fmt.Sprintf(keyMarkdownFmt, marketID, addrKey(addr)), markdown)
	if err != nil || !ok {
		return nil, err
	}
	markdown.Address = addr
	return markdown, nil
}

func (s *Store) PutMarkdownState(marketID string, state *MarkdownState) error {
	if state == nil {
		return nil
	}
	return s.put(fmt.Sprintf(keyMarkdownFmt, marketID, addrKey(state.Address)), state)
}

func (s *Store) GetFeeAccrual(marketID string) (*FeeAccrual, error) {
	fees := &FeeAccrual{}
	ok, err := s.get(fmt.Sprintf(keyFeeFmt, marketID), fees)
	if err != nil || !ok {
		return nil, err
	}
	return fees, nil
}

func (s *Store) PutFeeAccrual(marketID string, fees *FeeAccrual) error {
	if fees == nil {
		return nil
	}
	return s.put(fmt.Sprintf(keyFeeFmt, marketID), fees)
}
