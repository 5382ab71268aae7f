package codec

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/llfourn/gun-ng/contract"
)

// MaxOfferInputs bounds the input list an offer can carry. The fixed
// plaintext length is sized
// for this worst case regardless of how many inputs an offer actually uses.
const MaxOfferInputs = 10

const (
	offerInputSize     = 32 + 4 + 8 // txid + vout + value, all fixed-width
	maxScriptSize      = 34         // longest of P2WPKH (22) and P2WSH (34)
	maxSigSize         = 72         // DER ECDSA signature, worst case
	maxAdaptorSigSize  = 33 + 32 + 32 + 32 // betcrypto.AdaptorSignatureSize: R || sigma || DLEQ proof

	// offerFixedLen is the size every offer plaintext is padded to, so an
	// observer learns nothing about input count or change presence from
	// ciphertext length alone.
	offerFixedLen = 1 + // outcome index
		33 + // offerer pubkey
		1 + MaxOfferInputs*offerInputSize + // input count + inputs
		1 + maxScriptSize + // change script: length byte + script
		1 + maxScriptSize + // payout script
		1 + MaxOfferInputs*(1+maxSigSize) + // sig count + length-prefixed sigs
		1 + maxAdaptorSigSize + // adaptor signature, length-prefixed
		4 // fee rate
)

// Offer is the decoded plaintext of an offer blob.
type Offer struct {
	OffererPubKey *btcec.PublicKey
	OutcomeIndex  uint8
	OffererInputs []contract.Input
	ChangeScript  []byte // nil if the offerer has no change
	PayoutScript  []byte
	InputSigs     [][]byte
	AdaptorSig    []byte
	FeeRate       uint32
}

// EncryptOffer seals o and returns the base2048-encoded offer blob. The key
// is ECDH(offererPriv, proposerPub); since the proposer cannot derive that
// key without first learning the offerer's ephemeral pubkey, the pubkey
// itself (the same Q used in the bet's multisig) rides in clear ahead of
// the nonce and secretbox's sealed output, which is the 16-byte
// authenticator followed by the ciphertext.
func EncryptOffer(o *Offer, offererPriv *btcec.PrivateKey, proposerPub *btcec.PublicKey, assocData [32]byte) (string, error) {
	plaintext, err := marshalOffer(o)
	if err != nil {
		return "", fmt.Errorf("marshal offer: %w", err)
	}

	key := deriveOfferKey(ecdh(offererPriv, proposerPub), assocData)

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}

	sealed := secretbox.Seal(nil, plaintext, &nonce, key)

	blob := make([]byte, 0, 33+len(nonce)+len(sealed))
	blob = append(blob, offererPriv.PubKey().SerializeCompressed()...)
	blob = append(blob, nonce[:]...)
	blob = append(blob, sealed...)

	return EncodeBase2048(blob), nil
}

// DecryptOffer opens a blob produced by EncryptOffer, verifying it was
// encrypted to assocData (the proposal fingerprint it must answer).
func DecryptOffer(blob string, proposerPriv *btcec.PrivateKey, assocData [32]byte) (*Offer, error) {
	raw, err := DecodeBase2048(blob)
	if err != nil {
		return nil, fmt.Errorf("decode base2048 blob: %w", err)
	}
	if len(raw) < 33+24 {
		return nil, fmt.Errorf("offer blob too short: %d bytes", len(raw))
	}

	offererPub, err := btcec.ParsePubKey(raw[:33])
	if err != nil {
		return nil, fmt.Errorf("parse offerer pubkey: %w", err)
	}

	var nonce [24]byte
	copy(nonce[:], raw[33:57])
	sealed := raw[57:]

	key := deriveOfferKey(ecdh(proposerPriv, offererPub), assocData)

	plaintext, ok := secretbox.Open(nil, sealed, &nonce, key)
	if !ok {
		return nil, fmt.Errorf("offer decryption failed: tampered ciphertext or wrong proposal")
	}

	o, err := unmarshalOffer(plaintext)
	if err != nil {
		return nil, err
	}
	if !o.OffererPubKey.IsEqual(offererPub) {
		return nil, fmt.Errorf("offerer pubkey mismatch between envelope and plaintext")
	}
	return o, nil
}

// ecdh computes the X coordinate of priv*pub, the shared secret input to
// deriveOfferKey.
func ecdh(priv *btcec.PrivateKey, pub *btcec.PublicKey) []byte {
	var pubJ secp256k1.JacobianPoint
	pub.AsJacobian(&pubJ)

	var shared secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&priv.Key, &pubJ, &shared)
	shared.ToAffine()

	x := shared.X.Bytes()
	return x[:]
}

func deriveOfferKey(sharedX []byte, assocData [32]byte) *[32]byte {
	h := hkdf.New(sha256.New, sharedX, assocData[:], []byte("gun-ng offer key"))
	var key [32]byte
	io.ReadFull(h, key[:])
	return &key
}

func marshalOffer(o *Offer) ([]byte, error) {
	if len(o.OffererInputs) > MaxOfferInputs {
		return nil, fmt.Errorf("too many inputs: %d > %d", len(o.OffererInputs), MaxOfferInputs)
	}
	if len(o.InputSigs) > MaxOfferInputs {
		return nil, fmt.Errorf("too many signatures: %d > %d", len(o.InputSigs), MaxOfferInputs)
	}

	var buf bytes.Buffer
	buf.WriteByte(o.OutcomeIndex)
	buf.Write(o.OffererPubKey.SerializeCompressed())

	buf.WriteByte(byte(len(o.OffererInputs)))
	for _, in := range o.OffererInputs {
		buf.Write(in.OutPoint.Hash[:])
		var voutBuf [4]byte
		binary.BigEndian.PutUint32(voutBuf[:], in.OutPoint.Index)
		buf.Write(voutBuf[:])
		var valBuf [8]byte
		binary.BigEndian.PutUint64(valBuf[:], uint64(in.Value))
		buf.Write(valBuf[:])
	}

	writeScript := func(s []byte) error {
		if len(s) > 255 {
			return fmt.Errorf("script too long: %d bytes", len(s))
		}
		buf.WriteByte(byte(len(s)))
		buf.Write(s)
		return nil
	}
	if err := writeScript(o.ChangeScript); err != nil {
		return nil, err
	}
	if err := writeScript(o.PayoutScript); err != nil {
		return nil, err
	}

	buf.WriteByte(byte(len(o.InputSigs)))
	for _, sig := range o.InputSigs {
		if len(sig) > maxSigSize {
			return nil, fmt.Errorf("signature too long: %d bytes", len(sig))
		}
		buf.WriteByte(byte(len(sig)))
		buf.Write(sig)
	}

	if len(o.AdaptorSig) > maxAdaptorSigSize {
		return nil, fmt.Errorf("adaptor signature too long: %d bytes", len(o.AdaptorSig))
	}
	buf.WriteByte(byte(len(o.AdaptorSig)))
	buf.Write(o.AdaptorSig)

	var feeBuf [4]byte
	binary.BigEndian.PutUint32(feeBuf[:], o.FeeRate)
	buf.Write(feeBuf[:])

	plain := buf.Bytes()
	if len(plain) > offerFixedLen {
		return nil, fmt.Errorf("offer plaintext %d bytes exceeds fixed length %d", len(plain), offerFixedLen)
	}

	padded := make([]byte, 2+offerFixedLen)
	binary.BigEndian.PutUint16(padded[:2], uint16(len(plain)))
	copy(padded[2:], plain)
	if _, err := rand.Read(padded[2+len(plain):]); err != nil {
		return nil, err
	}
	return padded, nil
}

func unmarshalOffer(padded []byte) (*Offer, error) {
	if len(padded) < 2 {
		return nil, fmt.Errorf("offer plaintext too short")
	}
	realLen := int(binary.BigEndian.Uint16(padded[:2]))
	if realLen > len(padded)-2 {
		return nil, fmt.Errorf("offer length prefix %d exceeds buffer", realLen)
	}

	r := bytes.NewReader(padded[2 : 2+realLen])
	o := &Offer{}

	outcomeIdx, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read outcome index: %w", err)
	}
	o.OutcomeIndex = outcomeIdx

	pubBytes := make([]byte, 33)
	if _, err := io.ReadFull(r, pubBytes); err != nil {
		return nil, fmt.Errorf("read offerer pubkey: %w", err)
	}
	o.OffererPubKey, err = btcec.ParsePubKey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("parse offerer pubkey: %w", err)
	}

	count, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read input count: %w", err)
	}
	o.OffererInputs = make([]contract.Input, count)
	for i := range o.OffererInputs {
		var hash chainhash.Hash
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return nil, fmt.Errorf("read input txid: %w", err)
		}
		var voutBuf [4]byte
		if _, err := io.ReadFull(r, voutBuf[:]); err != nil {
			return nil, fmt.Errorf("read input vout: %w", err)
		}
		var valBuf [8]byte
		if _, err := io.ReadFull(r, valBuf[:]); err != nil {
			return nil, fmt.Errorf("read input value: %w", err)
		}
		o.OffererInputs[i] = contract.Input{
			OutPoint: wire.OutPoint{Hash: hash, Index: binary.BigEndian.Uint32(voutBuf[:])},
			Value:    int64(binary.BigEndian.Uint64(valBuf[:])),
		}
	}

	readScript := func() ([]byte, error) {
		n, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		s := make([]byte, n)
		if _, err := io.ReadFull(r, s); err != nil {
			return nil, err
		}
		return s, nil
	}
	if o.ChangeScript, err = readScript(); err != nil {
		return nil, fmt.Errorf("read change script: %w", err)
	}
	if o.PayoutScript, err = readScript(); err != nil {
		return nil, fmt.Errorf("read payout script: %w", err)
	}

	sigCount, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read signature count: %w", err)
	}
	o.InputSigs = make([][]byte, sigCount)
	for i := range o.InputSigs {
		n, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read signature length: %w", err)
		}
		sig := make([]byte, n)
		if _, err := io.ReadFull(r, sig); err != nil {
			return nil, fmt.Errorf("read signature: %w", err)
		}
		o.InputSigs[i] = sig
	}

	adaptorLen, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read adaptor signature length: %w", err)
	}
	o.AdaptorSig = make([]byte, adaptorLen)
	if _, err := io.ReadFull(r, o.AdaptorSig); err != nil {
		return nil, fmt.Errorf("read adaptor signature: %w", err)
	}

	var feeBuf [4]byte
	if _, err := io.ReadFull(r, feeBuf[:]); err != nil {
		return nil, fmt.Errorf("read fee rate: %w", err)
	}
	o.FeeRate = binary.BigEndian.Uint32(feeBuf[:])

	return o, nil
}
