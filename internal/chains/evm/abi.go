package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Bridge contract ABI fragments. Claims are identified by sequential numbers;
// outcomes travel as uint8 (0 = no, 1 = yes).
const bridgeABIJSON = `[
	{"type":"event","name":"NewExpatriation","anonymous":false,"inputs":[
		{"name":"sender_address","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"reward","type":"int256","indexed":false},
		{"name":"foreign_address","type":"string","indexed":false},
		{"name":"data","type":"string","indexed":false}]},
	{"type":"event","name":"NewRepatriation","anonymous":false,"inputs":[
		{"name":"sender_address","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"reward","type":"int256","indexed":false},
		{"name":"home_address","type":"string","indexed":false},
		{"name":"data","type":"string","indexed":false}]},
	{"type":"event","name":"NewClaim","anonymous":false,"inputs":[
		{"name":"claim_num","type":"uint256","indexed":false},
		{"name":"author_address","type":"address","indexed":false},
		{"name":"sender_address","type":"string","indexed":false},
		{"name":"recipient_address","type":"address","indexed":false},
		{"name":"txid","type":"string","indexed":false},
		{"name":"txts","type":"uint32","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"reward","type":"int256","indexed":false},
		{"name":"stake","type":"uint256","indexed":false},
		{"name":"data","type":"string","indexed":false},
		{"name":"expiry_ts","type":"uint32","indexed":false}]},
	{"type":"event","name":"NewChallenge","anonymous":false,"inputs":[
		{"name":"claim_num","type":"uint256","indexed":false},
		{"name":"author_address","type":"address","indexed":false},
		{"name":"stake","type":"uint256","indexed":false},
		{"name":"outcome","type":"uint8","indexed":false},
		{"name":"current_outcome","type":"uint8","indexed":false},
		{"name":"yes_stake","type":"uint256","indexed":false},
		{"name":"no_stake","type":"uint256","indexed":false},
		{"name":"expiry_ts","type":"uint32","indexed":false},
		{"name":"challenging_target","type":"uint256","indexed":false}]},
	{"type":"event","name":"FinishedClaim","anonymous":false,"inputs":[
		{"name":"claim_num","type":"uint256","indexed":false},
		{"name":"outcome","type":"uint8","indexed":false}]},
	{"type":"function","name":"claim","stateMutability":"payable","inputs":[
		{"name":"txid","type":"string"},
		{"name":"txts","type":"uint32"},
		{"name":"amount","type":"uint256"},
		{"name":"reward","type":"int256"},
		{"name":"stake","type":"uint256"},
		{"name":"sender_address","type":"string"},
		{"name":"recipient_address","type":"address"},
		{"name":"data","type":"string"}],"outputs":[]},
	{"type":"function","name":"challenge","stateMutability":"payable","inputs":[
		{"name":"claim_num","type":"uint256"},
		{"name":"stake_on","type":"uint8"},
		{"name":"stake","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[
		{"name":"claim_num","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"getRequiredStake","stateMutability":"view","inputs":[
		{"name":"amount","type":"uint256"}],"outputs":[
		{"name":"","type":"uint256"}]},
	{"type":"function","name":"settings","stateMutability":"view","inputs":[],"outputs":[
		{"name":"tokenAddress","type":"address"},
		{"name":"ratio100","type":"uint16"},
		{"name":"counterstake_coef100","type":"uint16"},
		{"name":"min_tx_age","type":"uint32"},
		{"name":"min_stake","type":"uint256"},
		{"name":"min_tx_ts","type":"uint32"},
		{"name":"large_threshold","type":"uint256"}]},
	{"type":"function","name":"getChallengingPeriods","stateMutability":"view","inputs":[],"outputs":[
		{"name":"challenging_periods","type":"uint256[]"},
		{"name":"large_challenging_periods","type":"uint256[]"}]},
	{"type":"function","name":"getClaim","stateMutability":"view","inputs":[
		{"name":"claim_num","type":"uint256"}],"outputs":[
		{"name":"","type":"tuple","components":[
			{"name":"amount","type":"uint256"},
			{"name":"recipient_address","type":"address"},
			{"name":"txts","type":"uint32"},
			{"name":"ts","type":"uint32"},
			{"name":"claimant_address","type":"address"},
			{"name":"expiry_ts","type":"uint32"},
			{"name":"period_number","type":"uint16"},
			{"name":"current_outcome","type":"uint8"},
			{"name":"is_large","type":"bool"},
			{"name":"withdrawn","type":"bool"},
			{"name":"finished","type":"bool"},
			{"name":"sender_address","type":"string"},
			{"name":"data","type":"string"},
			{"name":"yes_stake","type":"uint256"},
			{"name":"no_stake","type":"uint256"}]}]}
]`

// Factory contract ABI: announces newly deployed bridge sides.
const factoryABIJSON = `[
	{"type":"event","name":"NewExport","anonymous":false,"inputs":[
		{"name":"contractAddress","type":"address","indexed":false},
		{"name":"tokenAddress","type":"address","indexed":false},
		{"name":"foreign_network","type":"string","indexed":false},
		{"name":"foreign_asset","type":"string","indexed":false}]},
	{"type":"event","name":"NewImport","anonymous":false,"inputs":[
		{"name":"contractAddress","type":"address","indexed":false},
		{"name":"home_network","type":"string","indexed":false},
		{"name":"home_asset","type":"string","indexed":false},
		{"name":"symbol","type":"string","indexed":false},
		{"name":"stakeTokenAddress","type":"address","indexed":false}]}
]`

// Minimal ERC20 surface for balances and spending approvals.
const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"}],"outputs":[
		{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"},
		{"name":"spender","type":"address"}],"outputs":[
		{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
		{"name":"spender","type":"address"},
		{"name":"amount","type":"uint256"}],"outputs":[
		{"name":"","type":"bool"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"uint8"}]}
]`

var (
	bridgeABI  abi.ABI
	factoryABI abi.ABI
	erc20ABI   abi.ABI
)

func init() {
	bridgeABI = mustParseABI(bridgeABIJSON)
	factoryABI = mustParseABI(factoryABIJSON)
	erc20ABI = mustParseABI(erc20ABIJSON)
}

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("parse embedded abi: %v", err))
	}
	return parsed
}
