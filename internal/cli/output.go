// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-seedvault.
//
// go-seedvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/jeremyhahn/go-seedvault/pkg/seedvault"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer. Unknown formats print text.
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(strings.ToLower(format)),
		writer: writer,
	}
}

// IsJSON reports whether the printer emits JSON.
func (p *Printer) IsJSON() bool {
	return p.format == OutputFormatJSON
}

// PrintJSON writes v as indented JSON.
func (p *Printer) PrintJSON(v any) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	if p.IsJSON() {
		return p.PrintJSON(map[string]string{"status": "success", "message": message})
	}
	_, err := fmt.Fprintln(p.writer, message)
	return err
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	if p.IsJSON() {
		return p.PrintJSON(map[string]string{"status": "error", "error": err.Error()})
	}
	_, werr := fmt.Fprintf(p.writer, "Error: %v\n", err)
	return werr
}

type userJSON struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	DisplayName    string    `json:"display_name"`
	MaxCredentials int       `json:"max_credentials"`
	CreatedAt      time.Time `json:"created_at"`
}

// PrintUser prints a user account.
func (p *Printer) PrintUser(u *types.User) error {
	if p.IsJSON() {
		return p.PrintJSON(userJSON{u.ID, u.Name, u.DisplayName, u.MaxCredentials, u.CreatedAt})
	}
	fmt.Fprintf(p.writer, "User Information:\n")
	fmt.Fprintf(p.writer, "  ID:              %s\n", u.ID)
	fmt.Fprintf(p.writer, "  Name:            %s\n", u.Name)
	fmt.Fprintf(p.writer, "  Display Name:    %s\n", u.DisplayName)
	fmt.Fprintf(p.writer, "  Max Credentials: %d\n", u.MaxCredentials)
	fmt.Fprintf(p.writer, "  Created:         %s\n", u.CreatedAt.Format(time.RFC3339))
	return nil
}

type credentialJSON struct {
	ID           string     `json:"id"`
	Nickname     string     `json:"nickname,omitempty"`
	Capability   string     `json:"capability"`
	Primary      bool       `json:"primary"`
	Transports   []string   `json:"transports,omitempty"`
	SignCount    uint32     `json:"sign_count"`
	CloneWarning bool       `json:"clone_warning"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	Wrapped      *bool      `json:"wrapped,omitempty"`
	Rotation     *bool      `json:"rotation_pending,omitempty"`
}

func toCredentialJSON(c *types.Credential) credentialJSON {
	out := credentialJSON{
		ID:           types.EncodeID(c.ID),
		Nickname:     c.Nickname,
		Capability:   string(c.Capability),
		Primary:      c.Primary,
		Transports:   c.Transports,
		SignCount:    c.SignCount,
		CloneWarning: c.CloneWarning,
		CreatedAt:    c.CreatedAt,
	}
	if !c.LastUsedAt.IsZero() {
		t := c.LastUsedAt
		out.LastUsedAt = &t
	}
	return out
}

// PrintCredentials prints a user's credentials as a table.
func (p *Printer) PrintCredentials(creds []*types.Credential) error {
	if p.IsJSON() {
		list := make([]credentialJSON, 0, len(creds))
		for _, c := range creds {
			list = append(list, toCredentialJSON(c))
		}
		return p.PrintJSON(map[string]any{"credentials": list})
	}
	if len(creds) == 0 {
		_, err := fmt.Fprintln(p.writer, "No credentials found")
		return err
	}
	tw := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNICKNAME\tCAPABILITY\tPRIMARY\tSIGN COUNT\tLAST USED")
	for _, c := range creds {
		lastUsed := "never"
		if !c.LastUsedAt.IsZero() {
			lastUsed = c.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%s\n",
			types.EncodeID(c.ID), c.Nickname, c.Capability, c.Primary, c.SignCount, lastUsed)
	}
	return tw.Flush()
}

// PrintStatus prints the seed status of a user.
func (p *Printer) PrintStatus(st *seedvault.Status) error {
	if p.IsJSON() {
		creds := make([]credentialJSON, 0, len(st.Credentials))
		for _, cs := range st.Credentials {
			c := toCredentialJSON(cs.Credential)
			wrapped, pending := cs.Wrapped, cs.RotationPending
			c.Wrapped, c.Rotation = &wrapped, &pending
			creds = append(creds, c)
		}
		out := map[string]any{"user_id": st.UserID, "credentials": creds}
		if st.SeedID != "" {
			out["seed"] = map[string]any{
				"id":           st.SeedID,
				"word_count":   st.WordCount,
				"entropy_bits": st.EntropyBits,
				"created_at":   st.CreatedAt,
			}
		}
		return p.PrintJSON(out)
	}

	fmt.Fprintf(p.writer, "User: %s\n", st.UserID)
	if st.SeedID == "" {
		fmt.Fprintln(p.writer, "Seed: none")
	} else {
		fmt.Fprintf(p.writer, "Seed: %s (%d words, %d bits)\n", st.SeedID, st.WordCount, st.EntropyBits)
		if !st.LastAccessedAt.IsZero() {
			fmt.Fprintf(p.writer, "Last accessed: %s\n", st.LastAccessedAt.Format(time.RFC3339))
		}
	}
	tw := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREDENTIAL\tCAPABILITY\tWRAPPED\tROTATION PENDING")
	for _, cs := range st.Credentials {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\n",
			types.EncodeID(cs.Credential.ID), cs.Credential.Capability, cs.Wrapped, cs.RotationPending)
	}
	return tw.Flush()
}

// PrintMigrations prints migration status or results.
func (p *Printer) PrintMigrations(statuses []*goose.MigrationStatus) error {
	if p.IsJSON() {
		list := make([]map[string]any, 0, len(statuses))
		for _, s := range statuses {
			entry := map[string]any{
				"version": s.Source.Version,
				"path":    s.Source.Path,
				"state":   string(s.State),
			}
			if !s.AppliedAt.IsZero() {
				entry["applied_at"] = s.AppliedAt
			}
			list = append(list, entry)
		}
		return p.PrintJSON(map[string]any{"migrations": list})
	}
	tw := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED\tSOURCE")
	for _, s := range statuses {
		applied := "-"
		if !s.AppliedAt.IsZero() {
			applied = s.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Source.Version, s.State, applied, s.Source.Path)
	}
	return tw.Flush()
}
