package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// Console implementa ports.Notifier.
type Console struct {
	out      io.Writer
	table    bool
	validate bool
	now      func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table, validate bool) *Console {
	return &Console{out: os.Stdout, table: table, validate: validate, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table, validate bool) *Console {
	return &Console{out: w, table: table, validate: validate, now: time.Now}
}

// Notify imprime las oportunidades del ciclo en el modo configurado.
func (c *Console) Notify(_ context.Context, opportunities []domain.Opportunity) error {
	if len(opportunities) == 0 {
		fmt.Fprintf(c.out, "[%s] no opportunities found\n", c.clock())
		return nil
	}

	if c.table {
		c.printTable(opportunities)
	} else {
		c.printCompact(opportunities)
	}

	if c.validate {
		c.printValidation(opportunities)
	}
	return nil
}

// NotifyExecution imprime una línea por intento de ejecución.
func (c *Console) NotifyExecution(_ context.Context, o domain.ExecutionOutcome) error {
	tag := strings.ToUpper(string(o.Mode))
	if o.Status == domain.StatusSuccess {
		fmt.Fprintf(c.out, "[%s][%s] EXECUTED %s size %.4f profit %.6f (est %.6f) gas %d tx %s\n",
			c.clock(), tag, truncate(o.Market.Label(), 30),
			o.Size, o.RealizedProfit, o.EstimatedProfit, o.GasUsed, o.TxHash)
		return nil
	}
	fmt.Fprintf(c.out, "[%s][%s] FAILED %s size %.4f kind=%s: %s\n",
		c.clock(), tag, truncate(o.Market.Label(), 30),
		o.Size, o.Kind, truncate(o.Reason, 80))
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(opps []domain.Opportunity) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d opps", c.clock(), len(opps))

	for i, opp := range opps {
		if i >= 4 {
			break
		}
		fmt.Fprintf(&sb, " | %s size %.0f net %.4f (%.0fbps)",
			compactName(opp.Market.Label(), 20), opp.Size(), opp.NetProfit(), opp.ProfitBps())
	}
	fmt.Fprintln(c.out, sb.String())
}

// printTable imprime la tabla completa de oportunidades.
func (c *Console) printTable(opps []domain.Opportunity) {
	fmt.Fprintf(c.out, "\n[%s] %d opportunities\n", c.clock(), len(opps))

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Market", "Expiry", "Reserves PT/SY", "Size", "Sell out", "Buy back", "Costs", "Net", "Bps")

	for i, opp := range opps {
		e := opp.Estimate
		costs := e.MintRedeemCost + e.FlashFee + e.GasCost
		table.Append(
			fmt.Sprintf("%d", i+1),
			truncate(opp.Market.Label(), 28),
			expiryLabel(opp.Market, c.now()),
			fmt.Sprintf("%.0f / %.0f", opp.State.ReservePT, opp.State.ReserveSY),
			fmt.Sprintf("%.2f", e.Size),
			fmt.Sprintf("%.4f", e.SellOutput),
			fmt.Sprintf("%.4f", e.BuyBackCost),
			fmt.Sprintf("%.4f", costs),
			fmt.Sprintf("%.4f", e.NetProfit),
			fmt.Sprintf("%.1f", e.ProfitBps),
		)
	}
	table.Render()

	fmt.Fprintln(c.out, "  Sell out = SY recibido al vender PT | Buy back = SY para recomprar PT (+slippage)")
	fmt.Fprintln(c.out, "  Costs = mint/redeem + flash fee + gas | Net = beneficio neto estimado")
}

// printValidation imprime el cálculo paso a paso de los top 3.
func (c *Console) printValidation(opps []domain.Opportunity) {
	top := opps
	if len(top) > 3 {
		top = opps[:3]
	}

	fmt.Fprintln(c.out, "=== VALIDATION: step-by-step ===")
	for i, opp := range top {
		m, st, e := opp.Market, opp.State, opp.Estimate

		fmt.Fprintf(c.out, "\n--- #%d: %s ---\n", i+1, m.Label())
		fmt.Fprintf(c.out, "  market: %s  chain: %d\n", m.Address.Hex(), m.ChainID)
		if !m.Expiry.IsZero() {
			fmt.Fprintf(c.out, "  expiry: %s (%.0fh left)\n",
				m.Expiry.Format("2006-01-02"), m.Expiry.Sub(c.now()).Hours())
		}

		fmt.Fprintf(c.out, "\n  1. POOL STATE (block %d):\n", st.BlockNumber)
		fmt.Fprintf(c.out, "     reserve PT=%.4f  SY=%.4f  implied PT price=%.6f SY\n",
			st.ReservePT, st.ReserveSY, impliedPrice(st))

		fmt.Fprintf(c.out, "\n  2. SPREAD LEG (size %.4f):\n", e.Size)
		fmt.Fprintf(c.out, "     sell PT → %.6f SY\n", e.SellOutput)
		fmt.Fprintf(c.out, "     buy back PT ← %.6f SY\n", e.BuyBackCost)
		fmt.Fprintf(c.out, "     gross: %.6f\n", e.SellOutput-e.BuyBackCost)

		fmt.Fprintf(c.out, "\n  3. COSTS:\n")
		fmt.Fprintf(c.out, "     mint/redeem: %.6f  flash fee: %.6f  gas: %.6f\n",
			e.MintRedeemCost, e.FlashFee, e.GasCost)
		fmt.Fprintf(c.out, "     >>> NET: %.6f (%.1f bps)\n", e.NetProfit, e.ProfitBps)
	}
	fmt.Fprintln(c.out)
}

// PrintJournal imprime los intentos registrados y el total realizado.
func (c *Console) PrintJournal(outcomes []domain.ExecutionOutcome, realized float64) {
	if len(outcomes) == 0 {
		fmt.Fprintln(c.out, "\n  No executions recorded in this period.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("When", "Mode", "Market", "Size", "Est", "Realized", "Status", "Tx / Reason")

	ok, failed := 0, 0
	for _, o := range outcomes {
		detail := o.TxHash
		if o.Status != domain.StatusSuccess {
			detail = string(o.Kind)
			failed++
		} else {
			ok++
		}
		table.Append(
			o.ExecutedAt.Local().Format("01-02 15:04:05"),
			string(o.Mode),
			truncate(o.Market.Label(), 24),
			fmt.Sprintf("%.2f", o.Size),
			fmt.Sprintf("%.4f", o.EstimatedProfit),
			fmt.Sprintf("%.4f", o.RealizedProfit),
			string(o.Status),
			truncate(detail, 20),
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "\n  Executions: %d ok / %d failed\n", ok, failed)
	fmt.Fprintf(c.out, "  Realized profit: %.6f\n\n", realized)
}

// --- helpers ---

func (c *Console) clock() string { return c.now().Format("15:04:05") }

func impliedPrice(st domain.PoolState) float64 {
	if st.ReservePT <= 0 {
		return 0
	}
	return st.ReserveSY / st.ReservePT
}

func expiryLabel(m domain.Market, now time.Time) string {
	if m.Expiry.IsZero() {
		return "-"
	}
	days := m.Expiry.Sub(now).Hours() / 24
	if days < 7 {
		return fmt.Sprintf("%s (!%.0fd)", m.Expiry.Format("01-02"), days)
	}
	return m.Expiry.Format("2006-01-02")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func compactName(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if idx := strings.LastIndex(cut, " "); idx > maxLen/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
