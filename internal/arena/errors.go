package arena

// Protocol errors. Their text goes to the client verbatim in an ERR frame.
var (
	ErrLoginFirst      = errf("Log in first.")
	ErrAlreadyLoggedIn = errf("Already logged in.")
	ErrLoginUsage      = errf("usage: login <team> <password>")
	ErrInvalidPassword = errf("Invalid password.")
	ErrTeamConnected   = errf("team already connected")
	ErrUnknownInspect  = errf("Unrecognized manager command")
	ErrMatchOver       = errf("match is over")
	ErrNotInMatch      = errf("not a participant in this match")
	ErrAlreadyMoved    = errf("already moved this round")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
