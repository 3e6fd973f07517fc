package extractionclient

import (
	"fmt"
	"os"
)

// Credentials holds the three static auth headers required by the
// Extraction API, sourced once at process startup rather than read
// per-request, as required by section 4.3.
type Credentials struct {
	AccessKey     string
	SecretMessage string
	Signature     string
}

// CredentialsFromEnv reads the Extraction API credentials from the
// process environment, as required by section 6's environment-variable
// contract.
func CredentialsFromEnv() (Credentials, error) {
	c := Credentials{
		AccessKey:     os.Getenv("ENTELLIEXTRACT_ACCESS_KEY"),
		SecretMessage: os.Getenv("ENTELLIEXTRACT_SECRET_MESSAGE"),
		Signature:     os.Getenv("ENTELLIEXTRACT_SIGNATURE"),
	}
	if c.AccessKey == "" || c.SecretMessage == "" || c.Signature == "" {
		return Credentials{}, fmt.Errorf("extractionclient: missing one of ENTELLIEXTRACT_ACCESS_KEY, ENTELLIEXTRACT_SECRET_MESSAGE, ENTELLIEXTRACT_SIGNATURE")
	}
	return c, nil
}
