package wire

// Identifier names a message type the core understands. Commands that do
// not classify to one of these are forwarded to the channel's generic
// "unknown message" subscriber as a RawMessage (spec.md §4.6).
type Identifier string

const (
	IDVersion Identifier = "version"
	IDVerAck  Identifier = "verack"
	IDPing    Identifier = "ping"
	IDPong    Identifier = "pong"
	IDAddr    Identifier = "addr"
	IDGetAddr Identifier = "getaddr"
	IDReject  Identifier = "reject"
	IDAlert   Identifier = "alert"
	IDUnknown Identifier = ""
)

// commandBytes renders id as the fixed 12-byte, null-padded command field.
func commandBytes(id Identifier) [12]byte {
	var cmd [12]byte
	copy(cmd[:], []byte(id))
	return cmd
}

// commandString trims the null padding from a raw 12-byte command field.
func commandString(cmd [12]byte) string {
	n := len(cmd)
	for n > 0 && cmd[n-1] == 0 {
		n--
	}
	return string(cmd[:n])
}

var knownCommands = map[string]Identifier{
	string(IDVersion): IDVersion,
	string(IDVerAck):  IDVerAck,
	string(IDPing):    IDPing,
	string(IDPong):    IDPong,
	string(IDAddr):    IDAddr,
	string(IDGetAddr): IDGetAddr,
	string(IDReject):  IDReject,
	string(IDAlert):   IDAlert,
}

// ClassifyCommand maps a raw 12-byte wire command into a known Identifier,
// or reports ok=false for anything else (spec.md §4.5 classify).
func ClassifyCommand(cmd [12]byte) (Identifier, bool) {
	id, ok := knownCommands[commandString(cmd)]
	return id, ok
}
