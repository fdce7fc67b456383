package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/tourneyd/internal/domain"
)

// Console implementa ports.EventPublisher escribiendo tablas legibles.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole crea un publicador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un publicador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// PublishClosed imprime el ranking y los payouts de un cierre.
func (c *Console) PublishClosed(_ context.Context, t domain.ClosedTournament) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n[%s] tournament %s closed (%s): %d results, %d payouts, paid %s/%s %s\n",
		t.ClosedAt.Local().Format("15:04:05"), t.ChallengeID, t.ClosedBy,
		len(t.Results), len(t.Payouts), domain.TotalPaid(t.Payouts), t.Reward.Amount, t.Reward.Token)

	if len(t.Winners) == 0 {
		fmt.Fprintln(c.out, "  no results submitted")
		return nil
	}

	paid := make(map[string]domain.Payout, len(t.Payouts))
	for _, p := range t.Payouts {
		paid[p.UserName] = p
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Rank", "Player", "Score", "Payout")
	for _, w := range t.Winners {
		payout := "-"
		if p, ok := paid[w.UserName]; ok {
			payout = fmt.Sprintf("%s %s", p.Amount, p.Token)
		}
		table.Append(fmt.Sprintf("%d", w.Rank), w.UserName, scoreLabel(w.Score), payout)
	}
	table.Render()
	return nil
}

// PublishDeposit imprime una línea por reconciliación.
func (c *Console) PublishDeposit(_ context.Context, r domain.DepositReceipt) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	funded := "not funded"
	if r.Funded {
		funded = "funded"
	}
	fmt.Fprintf(c.out, "[%s] deposit %s %s: %s, credited %s (+%s), native %s\n",
		time.Now().Format("15:04:05"), r.GameID, r.Network, funded, r.Credited, r.Delta, r.EthBalance)
	return nil
}

// PrintClosedReport imprime un listado resumido de cierres (flag -report).
func (c *Console) PrintClosedReport(closed []domain.ClosedTournament) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(closed) == 0 {
		fmt.Fprintln(c.out, "No closed tournaments yet")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Closed at", "Challenge", "Game", "Trigger", "Players", "Winner", "Paid", "Reward")
	for _, t := range closed {
		winner := "-"
		if len(t.Winners) > 0 {
			winner = t.Winners[0].UserName
		}
		table.Append(
			t.ClosedAt.Local().Format("2006-01-02 15:04"),
			truncate(t.ChallengeID, 24),
			truncate(t.GameID, 16),
			string(t.ClosedBy),
			fmt.Sprintf("%d", len(t.Participants)),
			truncate(winner, 20),
			domain.TotalPaid(t.Payouts).String(),
			fmt.Sprintf("%s %s", t.Reward.Amount, t.Reward.Token),
		)
	}
	table.Render()
}

func scoreLabel(s *float64) string {
	if s == nil {
		return "n/a"
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", *s), "0"), ".")
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
