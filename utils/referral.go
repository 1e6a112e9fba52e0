package utils

import (
	"bytes"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

// ReferralType prefixes generated referral codes
type ReferralType string

const (
	MemberType ReferralType = "MBR"
)

// GenerateReferralCode generates a referral code for the given type.
// Format: {TYPE}-{RANDOM} where RANDOM is 6 characters of [A-Z2-7].
// Example: MBR-ABC234
func GenerateReferralCode(entityType ReferralType) (string, error) {
	// 4 random bytes give 7 base32 characters, we keep the first 6
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}

	randomStr := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(randomBytes)
	randomStr = strings.ToUpper(randomStr[:6])

	return string(entityType) + "-" + randomStr, nil
}

// ReferralLink is the public signup link for a code
func ReferralLink(baseURL, referralCode string) string {
	return fmt.Sprintf("%s/referral?code=%s", strings.TrimRight(baseURL, "/"), referralCode)
}

// GenerateReferralQRCode renders the referral link of a code as a base64 PNG data URI
func GenerateReferralQRCode(baseURL, referralCode string) (string, error) {
	qrCode, err := qr.Encode(ReferralLink(baseURL, referralCode), qr.M, qr.Auto)
	if err != nil {
		return "", err
	}

	// 300x300 is large enough to scan from a phone screen
	qrCode, err = barcode.Scale(qrCode, 300, 300)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qrCode); err != nil {
		return "", err
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
