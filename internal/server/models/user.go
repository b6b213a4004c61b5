// Package models holds the rows the server persists.
package models

import "time"

type User struct {
	ID          string
	UserName    string
	Role        string
	Permissions []string
	Salt        []byte
	Verifier    []byte
	// LastLogin is zero until the first successful login.
	LastLogin time.Time
	CreatedAt time.Time
}
