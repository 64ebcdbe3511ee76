package domain

// DashboardStats aggregates activity over the last 24 hours.
type DashboardStats struct {
	ActivePolicies  int     `json:"activePolicies"`
	ActiveAgents    int     `json:"activeAgents"`
	ActiveKeys      int     `json:"activeKeys"`
	TodayExecutions int     `json:"todayExecutions"`
	SuccessRate     float64 `json:"successRate"`
	TotalSpendToday string  `json:"totalSpendToday"`
	Violations24h   int     `json:"violations24h"`
}

// KnownContract is a catalog entry offered when building an allowlist.
type KnownContract struct {
	Key       string   `json:"key"`
	Address   string   `json:"address"`
	Name      string   `json:"name"`
	Functions []string `json:"functions"`
}

// KnownContracts is the built-in catalog of commonly allowlisted contracts on
// Arbitrum One.
var KnownContracts = []KnownContract{ //nolint:gochecknoglobals // static catalog
	{
		Key:       "uniswap",
		Address:   "0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45",
		Name:      "Uniswap V3 Router",
		Functions: []string{"exactInputSingle", "exactInput", "exactOutputSingle", "exactOutput", "swapExactTokensForTokens"},
	},
	{
		Key:       "aave",
		Address:   "0x794a61358D6845594F94dc1DB02A252b5b4814aD",
		Name:      "Aave V3 Pool",
		Functions: []string{"supply", "withdraw", "borrow", "repay", "flashLoan"},
	},
	{
		Key:       "gmx",
		Address:   "0xaBBc5F99639c9B6bCb58544ddf04EFA6802F4064",
		Name:      "GMX Router",
		Functions: []string{"swap", "increasePosition", "decreasePosition"},
	},
}

// AllowlistEntry converts the catalog entry into a verified allowlist entry.
func (c KnownContract) AllowlistEntry() ContractAllowlistEntry {
	fns := make([]string, len(c.Functions))
	copy(fns, c.Functions)
	return ContractAllowlistEntry{Address: c.Address, Name: c.Name, Functions: fns, Verified: true}
}
