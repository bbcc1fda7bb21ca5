package store

// UseFastKDF lowers the scrypt cost so tests stay quick.
func (s *IdentityFileStore) UseFastKDF() { s.kdf = kdfParams{N: 1 << 10, R: 8, P: 1} }
