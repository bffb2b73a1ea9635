package confirm

// instanceBase is the fixed universe/type/instance prefix of an individual
// public-universe account id.
const instanceBase uint64 = 0x0110000100000000

// SteamID64 widens a 32 bit account id into the community 64 bit id used on
// the wire.
func SteamID64(accountID uint32) uint64 {
	return instanceBase | uint64(accountID)
}

// AccountID extracts the 32 bit account id from a community 64 bit id.
func AccountID(steamID64 uint64) uint32 {
	return uint32(steamID64 & 0xFFFFFFFF)
}
