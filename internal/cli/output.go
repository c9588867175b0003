package cli

import (
	"encoding/json"
	"fmt"
	"os"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
}

// NewOutput creates a new Output formatter
func NewOutput(format string) *Output {
	return &Output{format: format}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Println(string(data))
	} else {
		fmt.Println(msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case StatusResult:
		o.printStatusResult(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// StatusResult response type (matches the server's /status endpoint)
type StatusResult struct {
	Status           string `json:"status"`
	Games            int    `json:"games"`
	WaitingPlayers   int    `json:"waitingPlayers"`
	ConnectedPlayers int    `json:"connectedPlayers"`
}

func (o *Output) printStatusResult(s StatusResult) {
	fmt.Printf("Status: %s\n", s.Status)
	fmt.Printf("Active Games: %d\n", s.Games)
	fmt.Printf("Waiting Players: %d\n", s.WaitingPlayers)
	fmt.Printf("Connected Players: %d\n", s.ConnectedPlayers)
}
