package store

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

var (
	// AccountsColumns holds the columns for the "accounts" table.
	AccountsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "username", Type: field.TypeString, Unique: true},
		{Name: "email", Type: field.TypeString, Unique: true, Nullable: true},
		{Name: "password_hash", Type: field.TypeString},
		{Name: "first_name", Type: field.TypeString, Default: ""},
		{Name: "last_name", Type: field.TypeString, Default: ""},
		{Name: "role", Type: field.TypeEnum, Enums: []string{"landlord", "manager", "tenant"}},
		{Name: "phone_number", Type: field.TypeString, Nullable: true},
		{Name: "landlord_id", Type: field.TypeString, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
	}
	// AccountsTable holds the schema information for the "accounts" table.
	AccountsTable = &schema.Table{
		Name:       "accounts",
		Columns:    AccountsColumns,
		PrimaryKey: []*schema.Column{AccountsColumns[0]},
	}

	// LeasesColumns holds the columns for the "leases" table.
	LeasesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "property_id", Type: field.TypeString},
		{Name: "property_name", Type: field.TypeString, Default: ""},
		{Name: "unit_id", Type: field.TypeString},
		{Name: "unit_label", Type: field.TypeString, Default: ""},
		{Name: "tenant_id", Type: field.TypeString},
		{Name: "landlord_id", Type: field.TypeString},
		{Name: "manager_id", Type: field.TypeString, Nullable: true},
		{Name: "rent_amount_cents", Type: field.TypeInt64},
		{Name: "currency", Type: field.TypeString, Default: "KES"},
		{Name: "due_day", Type: field.TypeInt},
		{Name: "status", Type: field.TypeEnum, Enums: []string{"active", "inactive"}},
		// active_unit mirrors unit_id while the lease is active and is NULL
		// afterwards; its unique index allows one active lease per unit.
		{Name: "active_unit", Type: field.TypeString, Unique: true, Nullable: true},
		{Name: "created_by", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "ended_at", Type: field.TypeTime, Nullable: true},
	}
	// LeasesTable holds the schema information for the "leases" table.
	LeasesTable = &schema.Table{
		Name:       "leases",
		Columns:    LeasesColumns,
		PrimaryKey: []*schema.Column{LeasesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "lease_tenant_id", Columns: []*schema.Column{LeasesColumns[5]}},
			{Name: "lease_landlord_id", Columns: []*schema.Column{LeasesColumns[6]}},
		},
	}

	// PaymentAttemptsColumns holds the columns for the "payment_attempts" table.
	PaymentAttemptsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "lease_id", Type: field.TypeString},
		{Name: "tenant_id", Type: field.TypeString},
		{Name: "period", Type: field.TypeString, Size: 7},
		{Name: "amount_cents", Type: field.TypeInt64},
		{Name: "phone_number", Type: field.TypeString},
		{Name: "merchant_request_id", Type: field.TypeString, Nullable: true},
		{Name: "checkout_request_id", Type: field.TypeString, Unique: true, Nullable: true},
		{Name: "status", Type: field.TypeEnum, Enums: []string{"pending", "success", "failed"}},
		{Name: "receipt", Type: field.TypeString, Nullable: true},
		{Name: "result_code", Type: field.TypeInt, Nullable: true},
		{Name: "result_desc", Type: field.TypeString, Nullable: true},
		{Name: "transaction_date", Type: field.TypeTime, Nullable: true},
		{Name: "raw_callback", Type: field.TypeString, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// PaymentAttemptsTable holds the schema information for the "payment_attempts" table.
	PaymentAttemptsTable = &schema.Table{
		Name:       "payment_attempts",
		Columns:    PaymentAttemptsColumns,
		PrimaryKey: []*schema.Column{PaymentAttemptsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "paymentattempt_lease_id_period", Columns: []*schema.Column{PaymentAttemptsColumns[1], PaymentAttemptsColumns[3]}},
			{Name: "paymentattempt_status_created_at", Columns: []*schema.Column{PaymentAttemptsColumns[8], PaymentAttemptsColumns[14]}},
		},
	}

	// InvitesColumns holds the columns for the "invites" table.
	InvitesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "token", Type: field.TypeString, Unique: true},
		{Name: "kind", Type: field.TypeEnum, Enums: []string{"tenant", "manager"}},
		{Name: "full_name", Type: field.TypeString, Default: ""},
		{Name: "email", Type: field.TypeString, Nullable: true},
		{Name: "phone", Type: field.TypeString, Nullable: true},
		{Name: "invited_by", Type: field.TypeString},
		{Name: "property_id", Type: field.TypeString, Nullable: true},
		{Name: "property_name", Type: field.TypeString, Nullable: true},
		{Name: "unit_id", Type: field.TypeString, Nullable: true},
		{Name: "unit_label", Type: field.TypeString, Nullable: true},
		{Name: "status", Type: field.TypeEnum, Enums: []string{"pending", "accepted", "expired", "cancelled"}},
		{Name: "expires_at", Type: field.TypeTime},
		{Name: "otp_code", Type: field.TypeString, Nullable: true},
		{Name: "otp_expires_at", Type: field.TypeTime, Nullable: true},
		{Name: "accepted_account_id", Type: field.TypeString, Nullable: true},
		{Name: "accepted_at", Type: field.TypeTime, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
	}
	// InvitesTable holds the schema information for the "invites" table.
	InvitesTable = &schema.Table{
		Name:       "invites",
		Columns:    InvitesColumns,
		PrimaryKey: []*schema.Column{InvitesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "invite_invited_by", Columns: []*schema.Column{InvitesColumns[6]}},
			{Name: "invite_status_expires_at", Columns: []*schema.Column{InvitesColumns[11], InvitesColumns[12]}},
		},
	}

	// NotificationsColumns holds the columns for the "notifications" table.
	NotificationsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "user_id", Type: field.TypeString},
		{Name: "title", Type: field.TypeString},
		{Name: "message", Type: field.TypeString},
		{Name: "type", Type: field.TypeEnum, Enums: []string{"info", "payment", "invite", "overdue"}},
		{Name: "lease_id", Type: field.TypeString, Nullable: true},
		{Name: "period", Type: field.TypeString, Nullable: true},
		// dedupe_key is "overdue:<lease>:<period>" for overdue notices, enforcing
		// one per (lease, type, period); NULL for everything else.
		{Name: "dedupe_key", Type: field.TypeString, Unique: true, Nullable: true},
		{Name: "read", Type: field.TypeBool, Default: false},
		{Name: "created_at", Type: field.TypeTime},
	}
	// NotificationsTable holds the schema information for the "notifications" table.
	NotificationsTable = &schema.Table{
		Name:       "notifications",
		Columns:    NotificationsColumns,
		PrimaryKey: []*schema.Column{NotificationsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "notification_user_id_created_at", Columns: []*schema.Column{NotificationsColumns[1], NotificationsColumns[9]}},
		},
	}

	// ActivityEntriesColumns holds the columns for the "activity_entries" table.
	ActivityEntriesColumns = []*schema.Column{
		{Name: "indexed_entity_type", Type: field.TypeString},
		{Name: "indexed_entity_id", Type: field.TypeString},
		{Name: "occurred_at", Type: field.TypeTime},
		{Name: "event_id", Type: field.TypeString},
		{Name: "event_type", Type: field.TypeString},
		{Name: "entity_role", Type: field.TypeString},
		{Name: "source_refs", Type: field.TypeString},
		{Name: "summary", Type: field.TypeString},
		{Name: "category", Type: field.TypeString},
		{Name: "weight", Type: field.TypeString},
		{Name: "polarity", Type: field.TypeString},
		{Name: "payload", Type: field.TypeString, Nullable: true},
	}
	// ActivityEntriesTable holds the schema information for the "activity_entries" table.
	ActivityEntriesTable = &schema.Table{
		Name:    "activity_entries",
		Columns: ActivityEntriesColumns,
		PrimaryKey: []*schema.Column{
			ActivityEntriesColumns[0], ActivityEntriesColumns[1], ActivityEntriesColumns[2], ActivityEntriesColumns[3],
		},
	}

	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		AccountsTable,
		LeasesTable,
		PaymentAttemptsTable,
		InvitesTable,
		NotificationsTable,
		ActivityEntriesTable,
	}
)

// Migrate creates or upgrades the schema.
func (s *Store) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(s.drv)
	if err != nil {
		return fmt.Errorf("creating migrate: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		return fmt.Errorf("running schema migration: %w", err)
	}
	return nil
}
