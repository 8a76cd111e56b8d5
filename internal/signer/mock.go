package signer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/hkdf"

	"ciesign/internal/appearance"
	cserrors "ciesign/internal/errors"
	"ciesign/internal/reader"
	"ciesign/util"
)

// mockMaterial seeds every mock key.  It is not secret: mock
// signatures prove nothing beyond the integrity of the test pipeline.
var mockMaterial = []byte("ciesign mock signer material v1")

const (
	pdfHeader    = "%PDF-"
	markerPrefix = "%%CIESIGN "
	sigPrefix    = "%%SIG "
	trailerEOF   = "%%EOF\n"
)

// Mock signs documents with an ed25519 key derived from fixed material
// and the card ATR.  As a Gateway it only accepts cards whose ATR starts
// with reader.MockATRPrefix and verifies the PIN through the session.
type Mock struct {
	Logger *util.Logger
}

// NewMock returns a mock gateway that logs through logger.
func NewMock(logger *util.Logger) *Mock {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Mock{Logger: logger.Named("signer")}
}

// Marker is the signature dictionary summary embedded in mock output.
type Marker struct {
	Field     string    `json:"field"`
	Page      int       `json:"page"`
	Placement string    `json:"placement"`
	Rect      []float32 `json:"rect,omitempty"`
	Anchor    string    `json:"anchor,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Location  string    `json:"location,omitempty"`
	Name      string    `json:"name,omitempty"`
	Image     string    `json:"image,omitempty"` // "WxH" when a raster was embedded
	Key       string    `json:"key"`             // base64 ed25519 public key
}

// MockSign implements NoHardware.
func (m *Mock) MockSign(ctx context.Context, document []byte, app *appearance.Descriptor) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if app == nil {
		app = appearance.New(appearance.Options{})
	}
	return m.sign(document, app, reader.MockATRPrefix)
}

// Sign implements Gateway.
func (m *Mock) Sign(ctx context.Context, req Request, sess reader.Session) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.PIN == "" {
		return nil, fmt.Errorf("PIN not provided")
	}
	atr := reader.BuildATR(sess)
	if !bytes.HasPrefix(atr, reader.MockATRPrefix) {
		return nil, fmt.Errorf("ATR %X: %w", atr, cserrors.ErrUnsupportedCard)
	}
	if err := verifyPIN(sess, req.PIN); err != nil {
		return nil, err
	}
	m.Logger.Debug("card %X accepted the PIN", atr)

	app := req.Appearance
	if app == nil {
		app = appearance.New(appearance.Options{})
	}
	return m.sign(req.Document, app, atr)
}

// APDUs of the mock applet dialogue: select the signing application,
// then VERIFY the user PIN (reference 0x81).
var selectApp = []byte{0x00, 0xA4, 0x04, 0x0C, 0x06, 0xA0, 0x00, 0x00, 0x00, 0x00, 0x39}

func verifyAPDU(pin string) []byte {
	apdu := []byte{0x00, 0x20, 0x00, 0x81, byte(len(pin))}
	return append(apdu, pin...)
}

func verifyPIN(sess reader.Session, pin string) error {
	if len(pin) > 0xff {
		return fmt.Errorf("PIN too long")
	}
	if err := expectOK(sess, "select", selectApp); err != nil {
		return err
	}
	return expectOK(sess, "verify PIN", verifyAPDU(pin))
}

func expectOK(sess reader.Session, stage string, apdu []byte) error {
	resp, err := sess.Transceive(apdu)
	if err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	if len(resp) < 2 {
		return fmt.Errorf("%s: short response %X", stage, resp)
	}
	sw1, sw2 := resp[len(resp)-2], resp[len(resp)-1]
	switch {
	case sw1 == 0x90 && sw2 == 0x00:
		return nil
	case sw1 == 0x63 && sw2&0xF0 == 0xC0:
		return fmt.Errorf("%s: wrong PIN, %d attempts left", stage, sw2&0x0F)
	case sw1 == 0x69 && sw2 == 0x83:
		return fmt.Errorf("%s: PIN blocked", stage)
	default:
		return fmt.Errorf("%s failed with status %02X%02X", stage, sw1, sw2)
	}
}

func (m *Mock) sign(document []byte, app *appearance.Descriptor, atr []byte) ([]byte, error) {
	if !bytes.HasPrefix(document, []byte(pdfHeader)) {
		return nil, cserrors.ErrInvalidDocument
	}

	priv, err := deriveKey(atr)
	if err != nil {
		return nil, err
	}

	marker := Marker{
		Field:     "Signature" + strconv.Itoa(countSignatures(document)+1),
		Page:      app.PageIndex(),
		Placement: app.Placement().String(),
		Reason:    app.Reason(),
		Location:  app.Location(),
		Name:      app.Name(),
		Key:       base64.StdEncoding.EncodeToString(priv.Public().(ed25519.PublicKey)),
	}
	switch app.Placement() {
	case appearance.PlaceRect:
		marker.Rect = []float32{app.Left(), app.Bottom(), app.Width(), app.Height()}
	case appearance.PlaceField:
		marker.Anchor = app.FieldIDs()[0]
	}
	if img := app.Image(); img != nil {
		marker.Image = fmt.Sprintf("%dx%d", img.Width, img.Height)
	}
	header, err := json.Marshal(marker)
	if err != nil {
		return nil, fmt.Errorf("encode marker: %w", err)
	}

	var out bytes.Buffer
	out.Write(document)
	if !bytes.HasSuffix(document, []byte("\n")) {
		out.WriteByte('\n')
	}
	out.WriteString(markerPrefix)
	out.Write(header)
	out.WriteByte('\n')

	digest := sha256.Sum256(out.Bytes())
	sig := ed25519.Sign(priv, digest[:])

	out.WriteString(sigPrefix)
	out.WriteString(base64.StdEncoding.EncodeToString(sig))
	out.WriteByte('\n')
	out.WriteString(trailerEOF)

	m.Logger.Verbose("signed %d bytes as %s (%s placement)", len(document), marker.Field, marker.Placement)
	return out.Bytes(), nil
}

func deriveKey(atr []byte) (ed25519.PrivateKey, error) {
	seed := make([]byte, ed25519.SeedSize)
	kdf := hkdf.New(sha256.New, mockMaterial, atr, []byte("ciesign mock signing key"))
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// countSignatures counts the signature fields already present: real
// signature dictionaries and earlier mock markers.
func countSignatures(document []byte) int {
	return bytes.Count(document, []byte("/Type /Sig")) +
		bytes.Count(document, []byte("/Type/Sig")) +
		bytes.Count(document, []byte(markerPrefix))
}

// VerifyMock checks the last mock signature appended to signed and
// returns its marker.
func VerifyMock(signed []byte) (*Marker, error) {
	sigAt := bytes.LastIndex(signed, []byte(sigPrefix))
	if sigAt < 0 {
		return nil, fmt.Errorf("no mock signature found")
	}
	content := signed[:sigAt]
	line := signed[sigAt+len(sigPrefix):]
	if nl := bytes.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	sig, err := base64.StdEncoding.DecodeString(string(line))
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}

	markAt := bytes.LastIndex(content, []byte(markerPrefix))
	if markAt < 0 {
		return nil, fmt.Errorf("no signature marker found")
	}
	var marker Marker
	if err := json.Unmarshal(bytes.TrimSpace(content[markAt+len(markerPrefix):]), &marker); err != nil {
		return nil, fmt.Errorf("decode marker: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(marker.Key)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("bad public key in marker")
	}

	digest := sha256.Sum256(content)
	if !ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig) {
		return nil, fmt.Errorf("signature does not match document")
	}
	return &marker, nil
}
