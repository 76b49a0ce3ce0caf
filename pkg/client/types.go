package client

// RunState is the run snapshot served at /state.
type RunState struct {
	Ready       bool           `json:"ready"`
	Finished    bool           `json:"finished"`
	Status      int            `json:"status"`
	Browsers    []BrowserState `json:"browsers"`
	BrowsersRev uint64         `json:"browsersRev"`
	Launches    []Launch       `json:"launches"`
}

// BrowserState is one browser of the run.
type BrowserState struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Waiting  bool          `json:"waiting"`
	Running  bool          `json:"running"`
	Finished bool          `json:"finished"`
	Launched *Launch       `json:"launched,omitempty"`
	Sockets  []SocketState `json:"sockets"`
	Tests    []Test        `json:"tests"`
}

// Launch is a browser process started by the run.
type Launch struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SocketState is one adapter connection.
type SocketState struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
}

// Test is one test as reported by an adapter.
type Test struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Path     []string `json:"path,omitempty"`
	State    string   `json:"state"`
	Duration int64    `json:"duration,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Sockets is the response of /sockets.
type Sockets struct {
	Connected int      `json:"connected"`
	Adapters  []string `json:"adapters"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
