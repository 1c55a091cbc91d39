package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictx/internal/crypto"
	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/service"
)

// parseAmount converts a decimal token amount into base units.
func parseAmount(s string, decimals int) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	units := d.Shift(int32(decimals))
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimals", s, decimals)
	}
	if !units.IsPositive() || units.GreaterThan(decimal.NewFromInt(1<<63-1)) {
		return 0, fmt.Errorf("amount %s out of range", s)
	}
	return units.IntPart(), nil
}

// formatAmount renders base units as a decimal token amount.
func formatAmount(n int64, decimals int) string {
	return decimal.New(n, -int32(decimals)).StringFixed(int32(decimals))
}

// parseResolveDate accepts RFC 3339 or a duration from now ("72h").
func parseResolveDate(s string, now time.Time) (int64, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("resolve date %q: want RFC 3339 or a positive duration", s)
	}
	return now.Add(d).UnixMilli(), nil
}

func parseSideFlag(s string) (domain.Side, error) {
	return domain.ParseSide(strings.TrimSpace(s))
}

func printInvocation(w io.Writer, res invokeResult) {
	fmt.Fprintf(w, "invocation %s committed\n", res.InvocationID)
	for _, r := range res.Results {
		if len(r.Result) > 0 && string(r.Result) != "null" {
			fmt.Fprintf(w, "  %s.%s -> %s\n", r.Contract, r.Method, r.Result)
		}
	}
	for _, ev := range res.Events {
		fmt.Fprintf(w, "  event %-20s %s\n", ev.Name, ev.Payload)
	}
}

func runKeygen(_ context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "", "write the key encrypted to this file instead of printing it")
	password := fs.String("password", os.Getenv("PREDICTX_KEY_PASSWORD"), "password for -out")
	_ = fs.Parse(args)

	key, err := crypto.GenerateKeyHex()
	if err != nil {
		return err
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return err
	}
	fmt.Fprintf(g.out, "address: %s\n", signer.Address().Hex())
	if *out == "" {
		fmt.Fprintf(g.out, "key:     0x%s\n", key)
		return nil
	}
	return writeEncryptedKey(*out, key, *password)
}

func runEncryptKey(_ context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ExitOnError)
	out := fs.String("out", "key.json", "output file")
	password := fs.String("password", os.Getenv("PREDICTX_KEY_PASSWORD"), "encryption password")
	_ = fs.Parse(args)

	if g.key == "" {
		return errors.New("encrypt-key needs -key or PREDICTX_KEY")
	}
	if err := writeEncryptedKey(*out, g.key, *password); err != nil {
		return err
	}
	fmt.Fprintf(g.out, "encrypted key written to %s\n", *out)
	return nil
}

func writeEncryptedKey(path, key, password string) error {
	blob, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}

func runCreate(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	question := fs.String("question", "", "market question")
	description := fs.String("description", "", "resolution criteria")
	category := fs.String("category", "", "category")
	resolve := fs.String("resolve", "168h", "resolve date (RFC 3339 or duration from now)")
	oracleURL := fs.String("oracle-url", "", "URL the oracle fetches to resolve the market")
	_ = fs.Parse(args)

	date, err := parseResolveDate(*resolve, time.Now())
	if err != nil {
		return err
	}
	call, err := newCall("engine", service.MethodCreateMarket, domain.MarketParams{
		Question:    *question,
		Description: *description,
		Category:    *category,
		ResolveDate: date,
		OracleURL:   *oracleURL,
	})
	if err != nil {
		return err
	}
	return g.submit(ctx, call)
}

func (g *globals) depositCall(market, side, amount string) (domain.Call, int64, error) {
	s, err := parseSideFlag(side)
	if err != nil {
		return domain.Call{}, 0, err
	}
	n, err := parseAmount(amount, g.decimals)
	if err != nil {
		return domain.Call{}, 0, err
	}
	call, err := newCall("token", service.MethodTransfer, service.TransferArgs{
		To:       g.engine,
		Amount:   n,
		MarketID: market,
		Side:     s.String(),
	})
	return call, n, err
}

func runDeposit(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("deposit", flag.ExitOnError)
	market := fs.String("market", "", "market id")
	side := fs.String("side", "yes", "yes or no")
	amount := fs.String("amount", "", "token amount, e.g. 1.5")
	_ = fs.Parse(args)

	call, _, err := g.depositCall(*market, *side, *amount)
	if err != nil {
		return err
	}
	return g.submit(ctx, call)
}

func runBuy(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("buy", flag.ExitOnError)
	market := fs.String("market", "", "market id")
	side := fs.String("side", "yes", "yes or no")
	amount := fs.String("amount", "", "token amount, e.g. 1.5")
	deposit := fs.Bool("deposit", true, "deposit the amount in the same invocation")
	_ = fs.Parse(args)

	dep, n, err := g.depositCall(*market, *side, *amount)
	if err != nil {
		return err
	}
	method := service.MethodBuyYes
	if s, _ := parseSideFlag(*side); s == domain.SideNo {
		method = service.MethodBuyNo
	}
	buy, err := newCall("engine", method, service.BuyArgs{MarketID: *market, Amount: n})
	if err != nil {
		return err
	}
	if *deposit {
		return g.submit(ctx, dep, buy)
	}
	return g.submit(ctx, buy)
}

func runResolve(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	market := fs.String("market", "", "market id")
	u := fs.String("url", "", "override the market's oracle URL")
	filter := fs.String("filter", "", "JSONPath filter applied to the oracle response")
	_ = fs.Parse(args)

	call, err := newCall("engine", service.MethodRequestResolve, service.RequestResolveArgs{
		MarketID: *market,
		URL:      *u,
		Filter:   *filter,
	})
	if err != nil {
		return err
	}
	return g.submit(ctx, call)
}

func runPayout(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("payout", flag.ExitOnError)
	market := fs.String("market", "", "market id")
	_ = fs.Parse(args)

	call, err := newCall("engine", service.MethodPayout, service.MarketArgs{MarketID: *market})
	if err != nil {
		return err
	}
	return g.submit(ctx, call)
}

func runReclaim(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("reclaim", flag.ExitOnError)
	market := fs.String("market", "", "market id")
	side := fs.String("side", "yes", "yes or no")
	_ = fs.Parse(args)

	call, err := newCall("engine", service.MethodReclaim, service.ReclaimArgs{MarketID: *market, Side: *side})
	if err != nil {
		return err
	}
	return g.submit(ctx, call)
}

func (g *globals) submit(ctx context.Context, calls ...domain.Call) error {
	signer, err := g.signer()
	if err != nil {
		return err
	}
	res, err := g.client().invoke(ctx, signer, calls...)
	if err != nil {
		return err
	}
	printInvocation(g.out, res)
	return nil
}

type marketList struct {
	Markets []domain.Market `json:"markets"`
	Total   int64           `json:"total"`
}

func runMarkets(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("markets", flag.ExitOnError)
	limit := fs.Int("limit", 50, "page size")
	offset := fs.Int("offset", 0, "page offset")
	status := fs.String("status", "", "open, resolved or empty for all")
	_ = fs.Parse(args)

	q := url.Values{}
	q.Set("limit", strconv.Itoa(*limit))
	q.Set("offset", strconv.Itoa(*offset))
	if *status != "" {
		q.Set("status", *status)
	}
	var list marketList
	if err := g.client().do(ctx, http.MethodGet, "/api/markets?"+q.Encode(), nil, &list); err != nil {
		return err
	}
	renderMarkets(g.out, list, g.decimals)
	return nil
}

func renderMarkets(w io.Writer, list marketList, decimals int) {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Question", "Category", "Resolves", "Yes", "No", "Yes %", "Status")
	for _, m := range list.Markets {
		table.Append(
			m.ID,
			truncate(m.Question, 40),
			m.Category,
			time.UnixMilli(m.ResolveDate).UTC().Format("2006-01-02 15:04"),
			formatAmount(m.YesShares, decimals),
			formatAmount(m.NoShares, decimals),
			probabilityPercent(m.YesShares, m.NoShares),
			marketStatus(m),
		)
	}
	table.Render()
	fmt.Fprintf(w, "%d of %d markets\n", len(list.Markets), list.Total)
}

// probabilityPercent mirrors the engine's basis-point probability.
func probabilityPercent(yes, no int64) string {
	if yes+no == 0 {
		return "50.00"
	}
	bps := decimal.NewFromInt(yes).Mul(decimal.NewFromInt(10_000)).Div(decimal.NewFromInt(yes + no)).Floor()
	return bps.Shift(-2).StringFixed(2)
}

func marketStatus(m domain.Market) string {
	switch {
	case m.PaidOut:
		return "paid out"
	case m.Resolved && m.Outcome:
		return "resolved yes"
	case m.Resolved:
		return "resolved no"
	}
	return "open"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func runMarket(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("market", flag.ExitOnError)
	id := fs.String("id", "", "market id")
	_ = fs.Parse(args)

	c := g.client()
	var m domain.Market
	if err := c.do(ctx, http.MethodGet, "/api/markets/"+url.PathEscape(*id), nil, &m); err != nil {
		return err
	}
	var res domain.ResolutionInfo
	if err := c.do(ctx, http.MethodGet, "/api/markets/"+url.PathEscape(*id)+"/resolution", nil, &res); err != nil {
		return err
	}

	table := tablewriter.NewWriter(g.out)
	table.Header("Field", "Value")
	table.Append("ID", m.ID)
	table.Append("Question", m.Question)
	table.Append("Description", m.Description)
	table.Append("Category", m.Category)
	table.Append("Creator", m.Creator.Hex())
	table.Append("Resolves", time.UnixMilli(m.ResolveDate).UTC().Format(time.RFC3339))
	table.Append("Oracle URL", m.OracleURL)
	table.Append("Yes pool", formatAmount(m.YesShares, g.decimals))
	table.Append("No pool", formatAmount(m.NoShares, g.decimals))
	table.Append("Yes %", probabilityPercent(m.YesShares, m.NoShares))
	table.Append("Resolution", string(res.Status))
	table.Render()
	return nil
}

func runBalance(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	account := fs.String("account", "", "account address (default: the signer's)")
	_ = fs.Parse(args)

	acct := *account
	if acct == "" {
		signer, err := g.signer()
		if err != nil {
			return err
		}
		acct = signer.Address().Hex()
	}
	if !common.IsHexAddress(acct) {
		return fmt.Errorf("account %q is not a hex address", acct)
	}

	var bal struct {
		Amount int64  `json:"amount"`
		Symbol string `json:"symbol"`
	}
	if err := g.client().do(ctx, http.MethodGet, "/api/tokens/"+acct, nil, &bal); err != nil {
		return err
	}
	fmt.Fprintf(g.out, "%s %s\n", formatAmount(bal.Amount, g.decimals), bal.Symbol)
	return nil
}
