package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
coins:
  dash:
    family: utxo
    decimals: 8
    networks:
      mainnet:
        - url: http://node-a:9998
          kind: jsonrpc
          username: rpcuser
          password: rpcpass
        - url: https://insight.dash.org/insight-api
          kind: rest
    mining:
      algorithm: x11
      primary_pool: stratum+tcp://pool-a:3333
      backup_pools:
        - pool-b:3333
      wallet_address: XdashWallet
  etc:
    family: account
    decimals: 18
    chain_id: 61
    networks:
      mainnet:
        - url: https://etc.rivet.link
      testnet:
        - url: https://rpc.mordor.etccooperative.org
`

func TestParse(t *testing.T) {
	reg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	eps, err := reg.Endpoints("dash", "mainnet")
	require.NoError(t, err)
	require.Len(t, eps, 2)

	assert.Equal(t, JSONRPC, eps[0].Kind)
	assert.Equal(t, RESTExplorer, eps[1].Kind)
	assert.Equal(t, FamilyUTXO, eps[0].Family)
	assert.Equal(t, uint8(8), eps[1].Decimals)
	require.NotNil(t, eps[0].Credentials)
	assert.Equal(t, "rpcuser", eps[0].Credentials.Username)
	assert.Nil(t, eps[1].Credentials)
	assert.Equal(t, "dash/mainnet/http://node-a:9998", eps[0].Key())

	etc, err := reg.Endpoints("etc", "mainnet")
	require.NoError(t, err)
	assert.Equal(t, JSONRPC, etc[0].Kind, "kind defaults to jsonrpc")
	assert.Equal(t, FamilyAccount, etc[0].Family)

	assert.Equal(t, []Target{
		{Coin: "dash", Network: "mainnet"},
		{Coin: "etc", Network: "mainnet"},
		{Coin: "etc", Network: "testnet"},
	}, reg.Targets())
}

func TestDecimalsDefaultByFamily(t *testing.T) {
	reg, err := Parse([]byte(`
coins:
  etc:
    family: account
    networks:
      mainnet:
        - url: https://etc.rivet.link
  rvn:
    family: utxo
    networks:
      mainnet:
        - url: http://127.0.0.1:8766
  xyz:
    family: account
    decimals: 0
    networks:
      mainnet:
        - url: http://127.0.0.1:8545
`))
	require.NoError(t, err)

	for coin, want := range map[string]uint8{"etc": 18, "rvn": 8, "xyz": 0} {
		eps, err := reg.Endpoints(coin, "mainnet")
		require.NoError(t, err)
		assert.Equal(t, want, eps[0].Decimals, coin)
	}
}

func TestEndpointsIsACopy(t *testing.T) {
	reg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	eps, _ := reg.Endpoints("dash", "mainnet")
	eps[0].URL = "http://mutated"

	again, _ := reg.Endpoints("dash", "mainnet")
	assert.Equal(t, "http://node-a:9998", again[0].URL)
}

func TestUnknownNetwork(t *testing.T) {
	reg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	_, err = reg.Endpoints("dash", "testnet")
	assert.True(t, errors.Is(err, ErrUnknownNetwork))

	_, err = reg.Endpoints("doge", "mainnet")
	assert.True(t, errors.Is(err, ErrUnknownNetwork))
}

func TestMiningConfig(t *testing.T) {
	reg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	m, ok := reg.MiningConfig("dash")
	require.True(t, ok)
	assert.Equal(t, "dash", m.Coin)
	assert.Equal(t, "x11", m.Algorithm)
	assert.Equal(t, []string{"pool-b:3333"}, m.BackupPools)

	_, ok = reg.MiningConfig("etc")
	assert.False(t, ok)

	assert.Equal(t, []string{"dash"}, reg.MiningCoins())
	assert.Equal(t, []PoolTarget{
		{Coin: "dash", Address: "stratum+tcp://pool-a:3333", Primary: true},
		{Coin: "dash", Address: "pool-b:3333"},
	}, reg.PoolTargets())
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"unknown family": `
coins:
  x:
    family: dag
    networks:
      main:
        - url: http://a`,
		"unknown kind": `
coins:
  x:
    family: utxo
    networks:
      main:
        - url: http://a
          kind: grpc`,
		"duplicate url": `
coins:
  x:
    family: utxo
    networks:
      main:
        - url: http://a
        - url: http://a`,
		"empty url": `
coins:
  x:
    family: utxo
    networks:
      main:
        - kind: rest`,
		"incomplete mining": `
coins:
  x:
    family: utxo
    mining:
      algorithm: sha256d`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
