package crypto

// PRF implements the RFC 5246 Section 5 TLS pseudorandom function, specialized
// to SHA-256 as AllJoyn's Crypto_PseudorandomFunction does. It is used to
// derive the master secret and the "client finished"/"server finished"
// verifiers from the ECDHE/PSK/SRP premaster secret and the conversation-hash
// digest.
//
// PRF(secret, label, seed) = P_SHA256(secret, label || seed)
//
// P_hash expands the secret and seed into an arbitrary amount of output
// using the iterative HMAC construction:
//
//	A(0) = seed
//	A(i) = HMAC_hash(secret, A(i-1))
//	P_hash(secret, seed) = HMAC_hash(secret, A(1) || seed) ||
//	                       HMAC_hash(secret, A(2) || seed) || ...
func PRF(secret []byte, label string, seed []byte, outLen int) []byte {
	labeledSeed := make([]byte, 0, len(label)+len(seed))
	labeledSeed = append(labeledSeed, []byte(label)...)
	labeledSeed = append(labeledSeed, seed...)
	return pHashSHA256(secret, labeledSeed, outLen)
}

func pHashSHA256(secret, seed []byte, outLen int) []byte {
	out := make([]byte, 0, outLen+SHA256LenBytes)

	a := seed
	for len(out) < outLen {
		a = HMACSHA256Slice(secret, a)

		input := make([]byte, 0, len(a)+len(seed))
		input = append(input, a...)
		input = append(input, seed...)
		out = append(out, HMACSHA256Slice(secret, input)...)
	}

	return out[:outLen]
}
