package portfolio

// View is a defensive, read-only copy of the ledger handed to strategies
// and the opportunity manager. Mutating a View never affects the ledger.
type View struct {
	QuoteCurrency       string
	QuoteBalance        float64
	Holdings            map[string]Holding
	PortfolioValueQuote float64
	InitialValueQuote   float64
	TradesExecuted      int
}

// View returns a defensive copy of the current state.
func (l *Ledger) View() View {
	holdings := make(map[string]Holding, len(l.Holdings))
	for sym, h := range l.Holdings {
		holdings[sym] = h
	}
	return View{
		QuoteCurrency:       l.QuoteCurrency,
		QuoteBalance:        l.QuoteBalance(),
		Holdings:            holdings,
		PortfolioValueQuote: l.PortfolioValueQuote,
		InitialValueQuote:   l.InitialValueQuote,
		TradesExecuted:      l.TradesExecuted,
	}
}

// AssetAmount returns the held amount of an asset in the view.
func (v View) AssetAmount(asset string) float64 {
	return v.Holdings[asset].Amount
}

// QuotePct returns the quote currency's share of the portfolio in [0,1].
func (v View) QuotePct() float64 {
	if v.PortfolioValueQuote <= 0 {
		return 0
	}
	return v.QuoteBalance / v.PortfolioValueQuote
}
