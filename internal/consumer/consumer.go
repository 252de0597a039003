// Package consumer holds the directory of trusted platform registrations.
// A consumer record carries exactly one protocol's credential set: a shared
// secret for LTI 1.0/1.1, or the issuer/client-id/JWKS/key-pair tuple for
// LTI 1.3. Records are created by an administrator and read-only at launch
// time.
package consumer

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by directory lookups that match no consumer.
var ErrNotFound = errors.New("consumer: not found")

// Version tags the protocol a registration speaks.
type Version string

const (
	V1P0 Version = "V1P0" // LTI 1.0/1.1 OAuth1-signed form post
	V1P3 Version = "V1P3" // LTI 1.3 OIDC/JWT launch
)

// Default v1.0/1.1 parameter keys for user identity. Both name and mail
// read the LIS email key unless the registration configures otherwise.
const (
	DefaultNameParam = "lis_person_contact_email_primary"
	DefaultMailParam = "lis_person_contact_email_primary"
)

// Consumer is one trusted platform registration.
type Consumer struct {
	ID      string
	Label   string
	Version Version

	// v1.0/1.1 credentials.
	Key    string
	Secret string
	// Launch parameter keys the user's name and email are read from.
	NameParam string
	MailParam string

	// v1.3 credentials.
	Issuer        string
	ClientID      string
	DeploymentIDs []string
	AuthLoginURL  string // platform OIDC authentication endpoint
	KeySetURL     string // platform JWKS
	ToolKeyID     string
	ToolKey       *rsa.PrivateKey
}

// Validate enforces the one-protocol invariant: the credential set must be
// populated for the tagged version and absent for the other.
func (c *Consumer) Validate() error {
	switch c.Version {
	case V1P0:
		if c.Key == "" || c.Secret == "" {
			return errors.New("consumer: v1p0 requires consumer key and secret")
		}
		if c.Issuer != "" || c.ClientID != "" {
			return errors.New("consumer: v1p0 record carries v1p3 credentials")
		}
	case V1P3:
		if c.Issuer == "" || c.ClientID == "" || c.KeySetURL == "" {
			return errors.New("consumer: v1p3 requires issuer, client id and key set url")
		}
		if len(c.DeploymentIDs) == 0 {
			return errors.New("consumer: v1p3 requires at least one deployment id")
		}
		if c.Key != "" || c.Secret != "" {
			return errors.New("consumer: v1p3 record carries v1p0 credentials")
		}
	default:
		return fmt.Errorf("consumer: unknown lti version %q", c.Version)
	}
	return nil
}

// HasDeployment reports whether id is one of the registration's deployments.
func (c *Consumer) HasDeployment(id string) bool {
	for _, d := range c.DeploymentIDs {
		if d == id {
			return true
		}
	}
	return false
}

// IdentityParams returns the configured name/mail parameter keys, falling
// back to the LIS defaults.
func (c *Consumer) IdentityParams() (nameParam, mailParam string) {
	nameParam, mailParam = c.NameParam, c.MailParam
	if strings.TrimSpace(nameParam) == "" {
		nameParam = DefaultNameParam
	}
	if strings.TrimSpace(mailParam) == "" {
		mailParam = DefaultMailParam
	}
	return nameParam, mailParam
}

// Directory looks up trusted platform registrations. Implementations must be
// safe for concurrent use.
type Directory interface {
	// ByID finds a consumer by its registration id.
	ByID(ctx context.Context, id string) (*Consumer, error)
	// ByKey finds the v1.0/1.1 consumer for an oauth_consumer_key.
	ByKey(ctx context.Context, key string) (*Consumer, error)
	// ByIssuer finds the v1.3 consumer for an issuer, optionally narrowed
	// by client id when the platform shares one issuer across tools.
	ByIssuer(ctx context.Context, issuer, clientID string) (*Consumer, error)
	// ByClientID finds the v1.3 consumer for a client id (JWKS requests).
	ByClientID(ctx context.Context, clientID string) (*Consumer, error)
}

// EncodeToolKey renders the tool private key as PKCS#8 PEM for storage.
func EncodeToolKey(key *rsa.PrivateKey) (string, error) {
	if key == nil {
		return "", nil
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("consumer: marshal tool key: %w", err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// DecodeToolKey parses a stored PEM tool key. Accepts PKCS#8 and PKCS#1.
func DecodeToolKey(pemText string) (*rsa.PrivateKey, error) {
	if strings.TrimSpace(pemText) == "" {
		return nil, nil
	}
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errors.New("consumer: tool key is not PEM")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("consumer: tool key is not RSA")
		}
		return rsaKey, nil
	}
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("consumer: parse tool key: %w", err)
	}
	return rsaKey, nil
}
