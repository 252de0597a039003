package consumer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SQLDirectory reads consumer registrations from the consumers table.
type SQLDirectory struct {
	db *sql.DB
}

func NewSQLDirectory(db *sql.DB) *SQLDirectory { return &SQLDirectory{db: db} }

const consumerColumns = `id, label, lti_version, consumer_key, consumer_secret,
	name_param, mail_param, platform_issuer, client_id, deployment_ids,
	auth_login_url, key_set_url, tool_kid, tool_private_key_pem`

func (d *SQLDirectory) ByID(ctx context.Context, id string) (*Consumer, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+consumerColumns+` FROM consumers WHERE id = $1`, id)
	return scanConsumer(row)
}

func (d *SQLDirectory) ByKey(ctx context.Context, key string) (*Consumer, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+consumerColumns+` FROM consumers WHERE consumer_key = $1`, key)
	return scanConsumer(row)
}

func (d *SQLDirectory) ByIssuer(ctx context.Context, issuer, clientID string) (*Consumer, error) {
	var row *sql.Row
	if clientID != "" {
		row = d.db.QueryRowContext(ctx,
			`SELECT `+consumerColumns+` FROM consumers WHERE platform_issuer = $1 AND client_id = $2`,
			issuer, clientID)
	} else {
		row = d.db.QueryRowContext(ctx,
			`SELECT `+consumerColumns+` FROM consumers WHERE platform_issuer = $1`, issuer)
	}
	return scanConsumer(row)
}

func (d *SQLDirectory) ByClientID(ctx context.Context, clientID string) (*Consumer, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+consumerColumns+` FROM consumers WHERE client_id = $1`, clientID)
	return scanConsumer(row)
}

// Save inserts or replaces a registration (admin/seed path; launches never
// write here).
func (d *SQLDirectory) Save(ctx context.Context, c *Consumer) error {
	if err := c.Validate(); err != nil {
		return err
	}
	deployments, err := json.Marshal(c.DeploymentIDs)
	if err != nil {
		return fmt.Errorf("consumer: marshal deployment ids: %w", err)
	}
	keyPEM, err := EncodeToolKey(c.ToolKey)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO consumers (id, label, lti_version, consumer_key, consumer_secret,
			name_param, mail_param, platform_issuer, client_id, deployment_ids,
			auth_login_url, key_set_url, tool_kid, tool_private_key_pem)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			label = excluded.label,
			lti_version = excluded.lti_version,
			consumer_key = excluded.consumer_key,
			consumer_secret = excluded.consumer_secret,
			name_param = excluded.name_param,
			mail_param = excluded.mail_param,
			platform_issuer = excluded.platform_issuer,
			client_id = excluded.client_id,
			deployment_ids = excluded.deployment_ids,
			auth_login_url = excluded.auth_login_url,
			key_set_url = excluded.key_set_url,
			tool_kid = excluded.tool_kid,
			tool_private_key_pem = excluded.tool_private_key_pem`,
		c.ID, c.Label, string(c.Version), c.Key, c.Secret,
		c.NameParam, c.MailParam, c.Issuer, c.ClientID, string(deployments),
		c.AuthLoginURL, c.KeySetURL, c.ToolKeyID, keyPEM)
	if err != nil {
		return fmt.Errorf("consumer: save: %w", err)
	}
	return nil
}

func scanConsumer(row *sql.Row) (*Consumer, error) {
	var c Consumer
	var version, deployments, keyPEM string
	err := row.Scan(&c.ID, &c.Label, &version, &c.Key, &c.Secret,
		&c.NameParam, &c.MailParam, &c.Issuer, &c.ClientID, &deployments,
		&c.AuthLoginURL, &c.KeySetURL, &c.ToolKeyID, &keyPEM)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consumer: scan: %w", err)
	}
	c.Version = Version(version)
	if deployments != "" {
		if err := json.Unmarshal([]byte(deployments), &c.DeploymentIDs); err != nil {
			return nil, fmt.Errorf("consumer: unmarshal deployment ids: %w", err)
		}
	}
	key, err := DecodeToolKey(keyPEM)
	if err != nil {
		return nil, err
	}
	c.ToolKey = key
	return &c, nil
}
