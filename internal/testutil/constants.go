package testutil

// Common fixture identifiers shared across package tests.
const (
	TestTenantID  = "tenant-1"
	TestAccountID = "acct-1"
)
