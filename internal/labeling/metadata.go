package labeling

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// metadataVersion is written into every blob.
const metadataVersion = "1.0.0"

// AccountMetadata is the decrypted label payload of one account.
// Output labels are keyed by txid, then by output index.
type AccountMetadata struct {
	Version       string                       `json:"version"`
	AccountLabel  string                       `json:"accountLabel"`
	AddressLabels map[string]string            `json:"addressLabels"`
	OutputLabels  map[string]map[string]string `json:"outputLabels"`
}

// NewAccountMetadata creates an empty metadata payload.
func NewAccountMetadata() *AccountMetadata {
	return &AccountMetadata{
		Version:       metadataVersion,
		AddressLabels: make(map[string]string),
		OutputLabels:  make(map[string]map[string]string),
	}
}

// normalize ensures maps are non-nil after decoding.
func (m *AccountMetadata) normalize() {
	if m.Version == "" {
		m.Version = metadataVersion
	}
	if m.AddressLabels == nil {
		m.AddressLabels = make(map[string]string)
	}
	if m.OutputLabels == nil {
		m.OutputLabels = make(map[string]map[string]string)
	}
}

// SetAddressLabel sets or, given an empty label, removes an address label.
func (m *AccountMetadata) SetAddressLabel(address, label string) {
	if label == "" {
		delete(m.AddressLabels, address)
		return
	}
	m.AddressLabels[address] = label
}

// SetOutputLabel sets or removes the label of one transaction output.
func (m *AccountMetadata) SetOutputLabel(txid string, index int, label string) {
	key := strconv.Itoa(index)
	if label == "" {
		if outs, ok := m.OutputLabels[txid]; ok {
			delete(outs, key)
			if len(outs) == 0 {
				delete(m.OutputLabels, txid)
			}
		}
		return
	}
	if m.OutputLabels[txid] == nil {
		m.OutputLabels[txid] = make(map[string]string)
	}
	m.OutputLabels[txid][key] = label
}

// OutputLabel returns the label of one transaction output, or "".
func (m *AccountMetadata) OutputLabel(txid string, index int) string {
	return m.OutputLabels[txid][strconv.Itoa(index)]
}

// Empty reports whether the metadata carries no labels at all.
func (m *AccountMetadata) Empty() bool {
	return m.AccountLabel == "" && len(m.AddressLabels) == 0 && len(m.OutputLabels) == 0
}

// Marshal encodes the metadata payload as JSON.
func (m *AccountMetadata) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

// UnmarshalMetadata decodes a JSON metadata payload.
func UnmarshalMetadata(data []byte) (*AccountMetadata, error) {
	var m AccountMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	m.normalize()
	return &m, nil
}
