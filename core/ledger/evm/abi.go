package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const fundraiserABIJSON = `[
 {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"description","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"creator","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"goalAmount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"deadline","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"totalRaised","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"withdrawn","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"cancelled","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"usdc","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"feeBps","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"donations","stateMutability":"view","inputs":[{"name":"donor","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"donate","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[],"outputs":[]},
 {"type":"function","name":"cancel","stateMutability":"nonpayable","inputs":[],"outputs":[]},
 {"type":"function","name":"claimRefund","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

const factoryABIJSON = `[
 {"type":"function","name":"getFundraisers","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
 {"type":"function","name":"createFundraiser","stateMutability":"nonpayable","inputs":[
   {"name":"name","type":"string"},
   {"name":"description","type":"string"},
   {"name":"goalAmount","type":"uint256"},
   {"name":"deadline","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

const erc20ABIJSON = `[
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	fundraiserABI = mustParseABI(fundraiserABIJSON)
	factoryABI    = mustParseABI(factoryABIJSON)
	erc20ABI      = mustParseABI(erc20ABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
