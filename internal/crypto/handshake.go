package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/google/nearby-sub023/internal/frame"
)

// AuthenticationFailedError is the "failed" outcome of the handshake
// contract ("produces session keys or fails").
type AuthenticationFailedError struct {
	Reason string
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

const (
	hkdfInfoInitiatorToResponder = "nearby-sub023 initiator->responder"
	hkdfInfoResponderToInitiator = "nearby-sub023 responder->initiator"
)

// handshakeMsg is the wire shape of every one of the four handshake
// messages. Only the fields relevant to that step are populated; unused
// fields are zero. This is a private wire format, independent of the
// frame.OfflineFrame union: the handshake is a pluggable sub-state the
// core does not otherwise interpret.
type handshakeMsg struct {
	pubKey     [32]byte
	nonce      int32
	commitment [32]byte // msg 1/2 only
	confirm    [32]byte // msg 3/4 only
}

func encodeHandshakeMsg(m handshakeMsg) []byte {
	buf := make([]byte, 32+4+32+32)
	copy(buf[0:32], m.pubKey[:])
	binary.BigEndian.PutUint32(buf[32:36], uint32(m.nonce))
	copy(buf[36:68], m.commitment[:])
	copy(buf[68:100], m.confirm[:])
	return buf
}

func decodeHandshakeMsg(b []byte) (handshakeMsg, error) {
	if len(b) != 100 {
		return handshakeMsg{}, fmt.Errorf("crypto: handshake message has %d bytes, want 100", len(b))
	}
	var m handshakeMsg
	copy(m.pubKey[:], b[0:32])
	m.nonce = int32(binary.BigEndian.Uint32(b[32:36]))
	copy(m.commitment[:], b[36:68])
	copy(m.confirm[:], b[68:100])
	return m, nil
}

func commitmentOf(nonce int32, endpointInfo []byte) [32]byte {
	h := sha256.New()
	var nb [4]byte
	binary.BigEndian.PutUint32(nb[:], uint32(nonce))
	h.Write(nb[:])
	h.Write(endpointInfo)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func confirmationOf(sharedSecret []byte, role string) [32]byte {
	mac := hmac.New(sha256.New, sharedSecret)
	mac.Write([]byte(role))
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// newKeyPair generates an X25519 ephemeral key pair.
func newKeyPair() (priv, pub [32]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, priv[:]); err != nil {
		return priv, pub, err
	}
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, err
	}
	copy(pub[:], p)
	return priv, pub, nil
}

func sharedSecret(priv, peerPub [32]byte) ([]byte, error) {
	return curve25519.X25519(priv[:], peerPub[:])
}

func deriveSessionKeys(secret []byte, forInitiator bool) (SessionKeys, error) {
	var keys SessionKeys
	read := func(info string, out []byte) error {
		r := hkdf.New(sha256.New, secret, nil, []byte(info))
		_, err := io.ReadFull(r, out)
		return err
	}
	i2r := make([]byte, 32)
	r2i := make([]byte, 32)
	if err := read(hkdfInfoInitiatorToResponder, i2r); err != nil {
		return keys, err
	}
	if err := read(hkdfInfoResponderToInitiator, r2i); err != nil {
		return keys, err
	}
	if forInitiator {
		copy(keys.SendKey[:], i2r)
		copy(keys.RecvKey[:], r2i)
	} else {
		copy(keys.SendKey[:], r2i)
		copy(keys.RecvKey[:], i2r)
	}
	return keys, nil
}

// RunInitiator performs the 4-message handshake from the connection
// initiator's side: exchange ephemeral keys, commit to the
// nonce + local endpoint info, then confirm the derived shared secret.
// rw is the plaintext channel (encryption is not yet enabled).
func RunInitiator(rw io.ReadWriter, localNonce int32, localEndpointInfo []byte) (SessionKeys, error) {
	priv, pub, err := newKeyPair()
	if err != nil {
		return SessionKeys{}, fmt.Errorf("crypto: generate key pair: %w", err)
	}
	msg1 := handshakeMsg{pubKey: pub, nonce: localNonce, commitment: commitmentOf(localNonce, localEndpointInfo)}
	if err := frame.WriteLengthPrefixed(rw, encodeHandshakeMsg(msg1)); err != nil {
		return SessionKeys{}, fmt.Errorf("crypto: send msg1: %w", err)
	}

	raw2, err := frame.ReadLengthPrefixed(rw)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("crypto: receive msg2: %w", err)
	}
	msg2, err := decodeHandshakeMsg(raw2)
	if err != nil {
		return SessionKeys{}, &AuthenticationFailedError{Reason: err.Error()}
	}

	secret, err := sharedSecret(priv, msg2.pubKey)
	if err != nil {
		return SessionKeys{}, &AuthenticationFailedError{Reason: fmt.Sprintf("ecdh: %v", err)}
	}

	msg3 := handshakeMsg{confirm: confirmationOf(secret, "initiator")}
	if err := frame.WriteLengthPrefixed(rw, encodeHandshakeMsg(msg3)); err != nil {
		return SessionKeys{}, fmt.Errorf("crypto: send msg3: %w", err)
	}

	raw4, err := frame.ReadLengthPrefixed(rw)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("crypto: receive msg4: %w", err)
	}
	msg4, err := decodeHandshakeMsg(raw4)
	if err != nil {
		return SessionKeys{}, &AuthenticationFailedError{Reason: err.Error()}
	}
	want := confirmationOf(secret, "responder")
	if !hmac.Equal(msg4.confirm[:], want[:]) {
		return SessionKeys{}, &AuthenticationFailedError{Reason: "responder confirmation mismatch"}
	}

	return deriveSessionKeys(secret, true)
}

// RunResponder is RunInitiator's mirror image for the accepting side.
func RunResponder(rw io.ReadWriter, localNonce int32, localEndpointInfo []byte) (SessionKeys, error) {
	raw1, err := frame.ReadLengthPrefixed(rw)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("crypto: receive msg1: %w", err)
	}
	msg1, err := decodeHandshakeMsg(raw1)
	if err != nil {
		return SessionKeys{}, &AuthenticationFailedError{Reason: err.Error()}
	}

	priv, pub, err := newKeyPair()
	if err != nil {
		return SessionKeys{}, fmt.Errorf("crypto: generate key pair: %w", err)
	}
	msg2 := handshakeMsg{pubKey: pub, nonce: localNonce, commitment: commitmentOf(localNonce, localEndpointInfo)}
	if err := frame.WriteLengthPrefixed(rw, encodeHandshakeMsg(msg2)); err != nil {
		return SessionKeys{}, fmt.Errorf("crypto: send msg2: %w", err)
	}

	secret, err := sharedSecret(priv, msg1.pubKey)
	if err != nil {
		return SessionKeys{}, &AuthenticationFailedError{Reason: fmt.Sprintf("ecdh: %v", err)}
	}

	raw3, err := frame.ReadLengthPrefixed(rw)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("crypto: receive msg3: %w", err)
	}
	msg3, err := decodeHandshakeMsg(raw3)
	if err != nil {
		return SessionKeys{}, &AuthenticationFailedError{Reason: err.Error()}
	}
	want := confirmationOf(secret, "initiator")
	if !hmac.Equal(msg3.confirm[:], want[:]) {
		return SessionKeys{}, &AuthenticationFailedError{Reason: "initiator confirmation mismatch"}
	}

	msg4 := handshakeMsg{confirm: confirmationOf(secret, "responder")}
	if err := frame.WriteLengthPrefixed(rw, encodeHandshakeMsg(msg4)); err != nil {
		return SessionKeys{}, fmt.Errorf("crypto: send msg4: %w", err)
	}

	return deriveSessionKeys(secret, false)
}
