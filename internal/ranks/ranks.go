// Package ranks maps a trophy balance to its rank: one rank per 100 trophies.
package ranks

var names = []string{
	"Bronze", "Silver", "Gold", "Platinum", "Diamond",
	"Master", "Grandmaster", "Champion", "Legend", "Elite",
}

const (
	// Step is the trophy span of one rank.
	Step = 100
	Top  = "Supreme"
)

// For returns the rank name for a balance. Negative balances are Bronze.
func For(trophies int64) string {
	if trophies < 0 {
		return names[0]
	}
	i := trophies / Step
	if i >= int64(len(names)) {
		return Top
	}
	return names[i]
}

// Next returns the trophies still missing for the next rank, or 0 at the top.
func Next(trophies int64) int64 {
	if trophies < 0 {
		return Step - trophies
	}
	if trophies >= int64(len(names))*Step {
		return 0
	}
	return Step - trophies%Step
}
