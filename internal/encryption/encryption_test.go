package encryption

import (
	"encoding/base64"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
}

var _ = Describe("Cipher", func() {
	Describe("NewCipher", func() {
		It("rejects an empty key", func() {
			_, err := NewCipher("")
			Expect(err).To(HaveOccurred())
		})

		It("rejects a key that isn't 32 bytes once decoded", func() {
			_, err := NewCipher(base64.StdEncoding.EncodeToString([]byte("too-short")))
			Expect(err).To(HaveOccurred())
		})

		It("accepts a 32-byte base64 key", func() {
			_, err := NewCipher(testKey())
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("EncryptString and DecryptString", func() {
		It("round-trips a value", func() {
			c, err := NewCipher(testKey())
			Expect(err).NotTo(HaveOccurred())

			encrypted, err := c.EncryptString("123-45-6789")
			Expect(err).NotTo(HaveOccurred())
			Expect(encrypted).NotTo(Equal("123-45-6789"))

			decrypted, err := c.DecryptString(encrypted)
			Expect(err).NotTo(HaveOccurred())
			Expect(decrypted).To(Equal("123-45-6789"))
		})

		It("passes empty strings through unencrypted", func() {
			c, err := NewCipher(testKey())
			Expect(err).NotTo(HaveOccurred())

			encrypted, err := c.EncryptString("")
			Expect(err).NotTo(HaveOccurred())
			Expect(encrypted).To(Equal(""))
		})

		It("rejects a tampered ciphertext", func() {
			c, err := NewCipher(testKey())
			Expect(err).NotTo(HaveOccurred())

			encrypted, err := c.EncryptString("sensitive")
			Expect(err).NotTo(HaveOccurred())

			raw, err := base64.StdEncoding.DecodeString(encrypted)
			Expect(err).NotTo(HaveOccurred())
			raw[len(raw)-1] ^= 0xFF
			tampered := base64.StdEncoding.EncodeToString(raw)

			_, err = c.DecryptString(tampered)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("EncryptMetadata and DecryptMetadata", func() {
		It("encrypts only the sensitive fields and leaves the rest plain", func() {
			c, err := NewCipher(testKey())
			Expect(err).NotTo(HaveOccurred())

			metadata := map[string]interface{}{
				"buyer_ssn_last_4":    "6789",
				"lender_account_hint": "acct-4412",
				"buyer_name":          "Jane Doe",
			}

			encrypted, err := c.EncryptMetadata(metadata)
			Expect(err).NotTo(HaveOccurred())
			Expect(encrypted["buyer_name"]).To(Equal("Jane Doe"))
			Expect(encrypted["buyer_ssn_last_4"]).NotTo(Equal("6789"))
			Expect(encrypted["lender_account_hint"]).NotTo(Equal("acct-4412"))

			decrypted, err := c.DecryptMetadata(encrypted)
			Expect(err).NotTo(HaveOccurred())
			Expect(decrypted["buyer_ssn_last_4"]).To(Equal("6789"))
			Expect(decrypted["lender_account_hint"]).To(Equal("acct-4412"))
			Expect(decrypted["buyer_name"]).To(Equal("Jane Doe"))
		})

		It("passes nil metadata through", func() {
			c, err := NewCipher(testKey())
			Expect(err).NotTo(HaveOccurred())

			out, err := c.EncryptMetadata(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(BeNil())
		})
	})
})
