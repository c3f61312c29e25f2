// Command tripsage is the operator CLI for the TripSage agent service.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
)

var (
	app = kingpin.New("tripsage", "Operator CLI for the TripSage agent service")

	serverURL = app.Flag("url", "Service base URL").Envar("TRIPSAGE_URL").Default("http://localhost:8080").String()
	apiKey    = app.Flag("api-key", "API key").Envar("TRIPSAGE_API_KEY").String()
	userID    = app.Flag("user", "Caller user id (X-User-Id)").Envar("TRIPSAGE_USER").String()
	noColor   = app.Flag("no-color", "Disable colored output").Bool()

	classifyCmd     = app.Command("classify", "Route a message to a workflow")
	classifyMessage = classifyCmd.Arg("message", "User message").Required().String()

	approvalsCmd = app.Command("approvals", "Inspect and resolve approval requests")

	approvalsListCmd    = approvalsCmd.Command("list", "List approvals")
	approvalsListStatus = approvalsListCmd.Flag("status", "Filter by status").Enum("pending", "granted", "denied")

	approvalsGetCmd    = approvalsCmd.Command("get", "Show one approval")
	approvalsGetAction = approvalsGetCmd.Arg("action", "Gated action").Required().String()
	approvalsGetKey    = approvalsGetCmd.Arg("key", "Idempotency key").Required().String()

	approvalsGrantCmd      = approvalsCmd.Command("grant", "Grant a pending approval")
	approvalsGrantAction   = approvalsGrantCmd.Arg("action", "Gated action").Required().String()
	approvalsGrantKey      = approvalsGrantCmd.Arg("key", "Idempotency key").Required().String()
	approvalsGrantApprover = approvalsGrantCmd.Flag("approver", "Approver id").String()

	approvalsDenyCmd      = approvalsCmd.Command("deny", "Deny a pending approval")
	approvalsDenyAction   = approvalsDenyCmd.Arg("action", "Gated action").Required().String()
	approvalsDenyKey      = approvalsDenyCmd.Arg("key", "Idempotency key").Required().String()
	approvalsDenyApprover = approvalsDenyCmd.Flag("approver", "Approver id").String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	if *noColor {
		color.NoColor = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := newClient(*serverURL, *apiKey, *userID)
	if err := run(ctx, c, command, os.Stdout); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client, command string, w io.Writer) error {
	switch command {
	case classifyCmd.FullCommand():
		out, err := c.classify(ctx, *classifyMessage)
		if err != nil {
			return err
		}
		printClassification(w, out)

	case approvalsListCmd.FullCommand():
		recs, err := c.listApprovals(ctx, *approvalsListStatus)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Fprintln(w, "No approvals.")
		}
		for i := range recs {
			printApproval(w, &recs[i])
		}

	case approvalsGetCmd.FullCommand():
		rec, err := c.getApproval(ctx, *approvalsGetAction, *approvalsGetKey)
		if err != nil {
			return err
		}
		printApproval(w, rec)

	case approvalsGrantCmd.FullCommand():
		rec, err := c.resolveApproval(ctx, *approvalsGrantAction, *approvalsGrantKey, "grant", *approvalsGrantApprover)
		if err != nil {
			return err
		}
		printApproval(w, rec)

	case approvalsDenyCmd.FullCommand():
		rec, err := c.resolveApproval(ctx, *approvalsDenyAction, *approvalsDenyKey, "deny", *approvalsDenyApprover)
		if err != nil {
			return err
		}
		printApproval(w, rec)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func printClassification(w io.Writer, c *classification) {
	color.New(color.FgCyan, color.Bold).Fprint(w, c.Workflow)
	fmt.Fprintf(w, "  confidence=%.2f\n", c.Confidence)
	if c.Reasoning != "" {
		color.New(color.Faint).Fprintf(w, "  %s\n", c.Reasoning)
	}
}

func statusColor(status string) *color.Color {
	switch status {
	case "granted":
		return color.New(color.FgGreen)
	case "denied":
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func printApproval(w io.Writer, a *approval) {
	statusColor(a.Status).Fprintf(w, "%-8s", a.Status)
	fmt.Fprintf(w, " %s:%s  session=%s  id=%s", a.Action, a.IdempotencyKey, a.SessionID, a.ID)
	if a.ApproverID != "" {
		fmt.Fprintf(w, "  by=%s", a.ApproverID)
	}
	fmt.Fprintln(w)
}
