package auth

import (
	"encoding/base64"
	"fmt"

	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

type MfaSetup struct {
	Secret          string `json:"secret"`
	ProvisioningUri string `json:"provisioning_uri"`
	QrCode          string `json:"qr_code"`
}

// NewMfaSetup generates a totp secret for the account and renders its
// provisioning uri as a png data uri.
func NewMfaSetup(issuer, account string) (MfaSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: issuer, AccountName: account})
	if err != nil {
		return MfaSetup{}, fmt.Errorf("error generating totp secret: %w", err)
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
	if err != nil {
		return MfaSetup{}, fmt.Errorf("error rendering qr code: %w", err)
	}

	return MfaSetup{
		Secret:          key.Secret(),
		ProvisioningUri: key.URL(),
		QrCode:          "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

func ValidateTotp(code, secret string) bool {
	if secret == "" || code == "" {
		return false
	}
	return totp.Validate(code, secret)
}
