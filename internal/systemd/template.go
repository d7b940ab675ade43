package systemd

import (
	"fmt"
	"strings"
)

// DefaultUnitPath is where `novaledger unit --install` writes the service.
const DefaultUnitPath = "/etc/systemd/system/novaledger.service"

// UnitOptions fill the novaledger.service template.
type UnitOptions struct {
	Binary     string // absolute path to the novaledger binary
	ConfigPath string
	DataDir    string // must stay writable under ProtectSystem=strict
	User       string // empty runs as root
}

// ServiceUnit returns the systemd unit for `novaledger serve`.
func ServiceUnit(o UnitOptions) (string, error) {
	if o.Binary == "" || o.ConfigPath == "" || o.DataDir == "" {
		return "", fmt.Errorf("systemd: binary, config path and data dir are required")
	}
	for _, v := range []string{o.Binary, o.ConfigPath, o.DataDir, o.User} {
		if strings.ContainsAny(v, "\n\r") {
			return "", fmt.Errorf("systemd: newline in unit value %q", v)
		}
	}

	user := ""
	if o.User != "" {
		user = "User=" + o.User + "\n"
	}
	return fmt.Sprintf(`[Unit]
Description=Nova Syntheia National Ledger
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
%sExecStart=%s serve --config %s
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=true
ReadWritePaths=%s

[Install]
WantedBy=multi-user.target
`, user, o.Binary, o.ConfigPath, o.DataDir), nil
}
