package crypto_util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignAndVerifyHMAC256(t *testing.T) {
	secret := []byte("webhook-shared-secret")
	body := []byte(`{"event_id":"evt_123","type":"charge.succeeded"}`)

	sig := SignHMAC256(secret, body)
	assert.Len(t, sig, 64) // 32 bytes * 2 hex chars

	assert.True(t, VerifyHMAC256(secret, body, sig))

	// 篡改报文体 -> 校验失败
	assert.False(t, VerifyHMAC256(secret, []byte(`{"event_id":"evt_999"}`), sig))

	// 错误密钥 -> 校验失败
	assert.False(t, VerifyHMAC256([]byte("wrong-secret"), body, sig))

	// 签名为空 -> 校验失败
	assert.False(t, VerifyHMAC256(secret, body, ""))
}

func TestCalculateSHA256(t *testing.T) {
	// 幂等键派生必须是确定性的: 同一输入永远同一输出
	a := CalculateSHA256([]byte("donation_batch_42"))
	b := CalculateSHA256([]byte("donation_batch_42"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c := CalculateSHA256([]byte("donation_batch_43"))
	assert.NotEqual(t, a, c)
}

func TestAESGCMRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef") // AES-256
	plaintext := []byte("access-token-from-aggregator")

	ciphertext, err := EncryptAESGCM(key, plaintext)
	assert.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := DecryptAESGCM(key, ciphertext)
	assert.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	// 密文太短
	_, err = DecryptAESGCM(key, []byte("short"))
	assert.Error(t, err)
}
