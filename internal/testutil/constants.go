package testutil

// Test key material for use in tests only.
// 32+ bytes of HMAC key material for decision-log signing.
const TestSigningKey = "test-signing-key-1234567890123456"
