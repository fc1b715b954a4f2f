package cli

import (
	"strings"
)

// LinkScheme prefixes share links handed out by a relay, e.g.
// localanimator://192.168.1.20:3003/ws.
const LinkScheme = "localanimator://"

// ShareLink turns a relay websocket URL into a share link.
func ShareLink(wsURL string) string {
	return LinkScheme + strings.TrimPrefix(wsURL, "ws://")
}

// ExpandShareLink rewrites a command line whose first argument is a share
// link into a replica invocation against that relay. Other command lines
// are returned unchanged.
func ExpandShareLink(args []string) []string {
	if len(args) == 0 || !strings.HasPrefix(args[0], LinkScheme) {
		return args
	}
	target := strings.TrimSuffix(strings.TrimPrefix(args[0], LinkScheme), "/")
	if !strings.Contains(target, "/") {
		target += "/ws"
	}
	out := []string{"replica", "--url", "ws://" + target}
	return append(out, args[1:]...)
}
