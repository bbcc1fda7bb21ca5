// Package crypto is the Key & Cipher Service: every direct cryptographic
// operation Parley performs, and the binary/text boundary around them.
//
// Contents
//
//   - RSA-OAEP (SHA-256) identity key pairs: generation, SPKI/PKCS#8
//     export and import into usage-restricted handles (GenerateKeyPair,
//     ExportPublicKey, ExportPrivateKey, ImportPublicKey, ImportPrivateKey)
//   - AES-256-GCM conversation keys and 12-byte nonces (GenerateConversationKey,
//     GenerateNonce, EncryptSymmetric, DecryptSymmetric)
//   - Conversation key wrapping under a recipient public key (WrapKey, UnwrapKey)
//   - Standard base64 transcoding for text transports (BytesToText, TextToBytes)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//
// # Handles
//
// EncryptKey can only encrypt (wrap) and DecryptKey can only decrypt
// (unwrap); the type system enforces the usage split. Raw key bytes only
// leave this package through the explicit export functions and
// ConversationKey.Raw.
//
// # Errors
//
// Failures match the domain sentinels: ErrCryptoUnavailable when the random
// source fails, ErrDecryptionFailed when a GCM tag does not verify,
// ErrUnwrapFailed when OAEP decryption fails, ErrEncoding for malformed
// base64, ErrInvalidKey and ErrWeakKey for unusable key material.
package crypto
