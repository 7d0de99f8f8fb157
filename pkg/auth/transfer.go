package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// exportEnvelope is the plaintext inside an export file
type exportEnvelope struct {
	Version  int        `json:"version"`
	Sessions []*Session `json:"sessions"`
}

// Export writes sessions to w as an ASCII-armored age file encrypted with
// passphrase, for moving sessions between machines.
func Export(w io.Writer, sessions []*Session, passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase is required")
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	armored := armor.NewWriter(w)
	enc, err := age.Encrypt(armored, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(exportEnvelope{Version: 1, Sessions: sessions}); err != nil {
		return fmt.Errorf("writing sessions: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return armored.Close()
}

// Restore reads sessions written by Export. Sessions that fail validation
// are dropped.
func Restore(r io.Reader, passphrase string) ([]*Session, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	dec, err := age.Decrypt(armor.NewReader(r), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting export: %w", err)
	}

	var env exportEnvelope
	if err := json.NewDecoder(dec).Decode(&env); err != nil {
		return nil, fmt.Errorf("reading export: %w", err)
	}

	valid := make([]*Session, 0, len(env.Sessions))
	for _, s := range env.Sessions {
		if s.Validate() == nil && s.Username != "" {
			valid = append(valid, s)
		}
	}
	return valid, nil
}
