package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/peternagy/mongostate/internal/types"
)

// Output formats
const (
	outputJSON = "json"
	outputText = "text"
)

var (
	okColor   = color.New(color.FgGreen)
	badColor  = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
	headColor = color.New(color.Bold)
)

func renderReport(w io.Writer, format string, rep types.Report) error {
	switch strings.ToLower(format) {
	case "", outputText:
		renderText(w, rep)
		return nil
	case outputJSON:
		data, err := rep.MarshalIndent()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	default:
		return fmt.Errorf("unknown output format %q (want json or text)", format)
	}
}

func yesNo(b bool) string {
	if b {
		return okColor.Sprint("yes")
	}
	return badColor.Sprint("no")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func renderText(w io.Writer, rep types.Report) {
	headColor.Fprintln(w, "MongoDB")
	fmt.Fprintf(w, "  running:        %s\n", yesNo(rep.Running))
	fmt.Fprintf(w, "  port open:      %s\n", yesNo(rep.PortOpen))
	fmt.Fprintf(w, "  host:           %s\n", orDash(rep.ConnectionHost))
	fmt.Fprintf(w, "  bind ip:        %s\n", orDash(rep.BindIP))
	fmt.Fprintf(w, "  version:        %s\n", orDash(rep.Version))
	if rep.ServiceState != "" {
		fmt.Fprintf(w, "  service:        %s (enabled: %s)\n", rep.ServiceState, yesNo(rep.ServiceEnabled))
	}

	headColor.Fprintln(w, "Security")
	fmt.Fprintf(w, "  auth enabled:   %s\n", yesNo(rep.AuthEnabled))
	fmt.Fprintf(w, "  auth valid:     %s\n", yesNo(rep.AuthValid))
	fmt.Fprintf(w, "  tls:            %s (mode: %s)\n", yesNo(rep.TLSEnabled), orDash(rep.TLSMode))
	if rep.TLSCertificateKeyFile != "" {
		fmt.Fprintf(w, "  tls key file:   %s\n", rep.TLSCertificateKeyFile)
	}
	if rep.TLSCAFile != "" {
		fmt.Fprintf(w, "  tls ca file:    %s\n", rep.TLSCAFile)
	}

	headColor.Fprintln(w, "Topology")
	if !rep.ReplicationEnabled {
		fmt.Fprintf(w, "  standalone, primary %s\n", hostPort(rep.PrimaryHost, rep.PrimaryPort))
	} else {
		fmt.Fprintf(w, "  replica set:    %s\n", rep.ReplicaSetName)
		fmt.Fprintf(w, "  primary:        %s\n", hostPort(rep.PrimaryHost, rep.PrimaryPort))
		role := "not primary"
		if rep.IsPrimary {
			role = "primary"
		}
		fmt.Fprintf(w, "  this node:      %s\n", role)
		fmt.Fprintf(w, "  members:        %d (%d healthy)\n", rep.MemberCount, rep.HealthyMembers)
		for _, m := range rep.Members {
			renderMember(w, m)
		}
	}

	if rep.Error != "" {
		fmt.Fprintln(w)
		warnColor.Fprintf(w, "! %s\n", rep.Error)
	}
}

func renderMember(w io.Writer, m types.ReplicaMember) {
	state := m.StateStr
	switch m.State {
	case types.MemberPrimary:
		state = okColor.Sprint(state)
	case types.MemberUnknown:
		state = badColor.Sprint(state)
	}

	line := fmt.Sprintf("    %-28s %s", m.Name, state)
	if m.Health != nil && !*m.Health {
		line += " " + badColor.Sprint("unhealthy")
	}
	if m.LagSeconds != nil && m.State == types.MemberSecondary {
		line += fmt.Sprintf(" lag %ds", *m.LagSeconds)
	}
	if m.IsSelf {
		line += " (self)"
	}
	fmt.Fprintln(w, line)
}

func hostPort(host string, port int) string {
	if host == "" {
		return "-"
	}
	if port == 0 {
		return host
	}
	return fmt.Sprintf("%s:%d", host, port)
}
