package sshtunnel

import (
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/appurify/go-tunnel/pkg/control"
)

// reconstructPrivateKey rebuilds an *rsa.PrivateKey from the raw CRT
// components the reservation API hands back (decimal big integers, the
// representation Python's rsa/pyasn1 libraries emit).
func reconstructPrivateKey(k control.KeyComponents) (*rsa.PrivateKey, error) {
	n, ok := new(big.Int).SetString(k.N, 10)
	if !ok {
		return nil, fmt.Errorf("sshtunnel: malformed key component n")
	}
	e, ok := new(big.Int).SetString(k.E, 10)
	if !ok {
		return nil, fmt.Errorf("sshtunnel: malformed key component e")
	}
	d, ok := new(big.Int).SetString(k.D, 10)
	if !ok {
		return nil, fmt.Errorf("sshtunnel: malformed key component d")
	}
	p, ok := new(big.Int).SetString(k.P, 10)
	if !ok {
		return nil, fmt.Errorf("sshtunnel: malformed key component p")
	}
	q, ok := new(big.Int).SetString(k.Q, 10)
	if !ok {
		return nil, fmt.Errorf("sshtunnel: malformed key component q")
	}

	priv := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{
			N: n,
			E: int(e.Int64()),
		},
		D:      d,
		Primes: []*big.Int{p, q},
	}
	priv.Precompute()
	if err := priv.Validate(); err != nil {
		return nil, fmt.Errorf("sshtunnel: reconstructed key failed validation: %w", err)
	}
	return priv, nil
}
