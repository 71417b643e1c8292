package domain

type ChainID string
type ChainName string

const (
	// Chain IDs
	ChainIDCelo      ChainID = "42220"
	ChainIDAlfajores ChainID = "44787"

	// Chain Names (Internal Codes)
	ChainNameCelo      ChainName = "CELO_MAINNET"
	ChainNameAlfajores ChainName = "CELO_ALFAJORES"
)

// ChainIDToName maps ChainID to its human-readable InternalCode/Name.
var ChainIDToName = map[ChainID]ChainName{
	ChainIDCelo:      ChainNameCelo,
	ChainIDAlfajores: ChainNameAlfajores,
}

// ChainNameToID maps Chain Name to its ID.
var ChainNameToID = map[ChainName]ChainID{
	ChainNameCelo:      ChainIDCelo,
	ChainNameAlfajores: ChainIDAlfajores,
}
