package types

// BattleTag is a type-safe wrapper for stable account identity keys.
// It names one participant's account, independent of any character
// that account plays.
type BattleTag string

// CharName is a type-safe wrapper for transport-visible character names,
// optionally realm-qualified ("Name-Realm")
type CharName string

// String converts BattleTag to string
func (b BattleTag) String() string {
	return string(b)
}

// String converts CharName to string
func (c CharName) String() string {
	return string(c)
}
