package payment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotCompleted indicates a receipt was requested before the payment finished.
var ErrNotCompleted = errors.New("transaction is not completed")

// Receipt renders the plain-text payment receipt for a completed transaction.
func Receipt(tx Transaction) (string, error) {
	if tx.Status != StatusCompleted {
		return "", ErrNotCompleted
	}

	var b strings.Builder
	b.WriteString("PAYMENT RECEIPT\n")
	b.WriteString("==========================\n\n")
	fmt.Fprintf(&b, "Transaction:    %s\n", tx.ID)
	fmt.Fprintf(&b, "Date:           %s\n", tx.CompletedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Payment method: %s\n", tx.Provider)
	fmt.Fprintf(&b, "Phone number:   %s\n", tx.PhoneNumber)
	if tx.ProviderTransactionID != "" {
		fmt.Fprintf(&b, "Provider ref:   %s\n", tx.ProviderTransactionID)
	}
	b.WriteString("\nPRODUCT\n-------\n")
	fmt.Fprintf(&b, "Name:  %s\n", tx.Product.Title)
	fmt.Fprintf(&b, "Price: %d FCFA\n", tx.Product.Price)
	b.WriteString("\nSTATUS: PAYMENT SUCCESSFUL\n")
	return b.String(), nil
}

// Receipt renders the receipt for the current or a cached transaction.
func (s *Session) Receipt(transactionID string) (string, error) {
	tx, ok := s.Cached(transactionID)
	if !ok {
		return "", ErrNoSession
	}
	return Receipt(tx)
}

// FileReceiptStore persists receipts as text files, one per transaction.
type FileReceiptStore struct {
	dir string
}

// NewFileReceiptStore creates the receipts directory if needed.
func NewFileReceiptStore(dir string) (*FileReceiptStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create receipts dir: %w", err)
	}
	return &FileReceiptStore{dir: dir}, nil
}

// Save writes the receipt for a completed transaction and returns its path.
func (f *FileReceiptStore) Save(tx Transaction) (string, error) {
	text, err := Receipt(tx)
	if err != nil {
		return "", err
	}
	path := filepath.Join(f.dir, "receipt_"+tx.ID+".txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write receipt: %w", err)
	}
	return path, nil
}
