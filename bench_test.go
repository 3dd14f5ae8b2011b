package mls

import (
	"testing"
)

func benchSuite() CipherSuite {
	return X25519_AES128GCM_SHA256_Ed25519
}

func BenchmarkSignVerify(b *testing.B) {
	suite := benchSuite()
	scheme := suite.Scheme()
	priv, err := scheme.Derive([]byte("bench"))
	if err != nil {
		b.Fatal(err)
	}

	pt := &MLSPlaintext{
		GroupID: []byte{0x00, 0x01},
		Epoch:   1,
		Sender:  Sender{SenderTypeMember, 0},
		Content: MLSPlaintextContent{
			Application: &ApplicationData{Data: make([]byte, 1024)},
		},
	}
	ctx := GroupContext{GroupID: []byte{0x00, 0x01}, Epoch: 1}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := pt.Sign(suite, ctx, priv); err != nil {
			b.Fatal(err)
		}
		if !pt.Verify(suite, ctx, &priv.PublicKey) {
			b.Fatal("verify failed")
		}
	}
}

func BenchmarkProtectUnprotect(b *testing.B) {
	suite := benchSuite()
	scheme := suite.Scheme()
	priv, err := scheme.Derive([]byte("bench"))
	if err != nil {
		b.Fatal(err)
	}

	epochSecret := make([]byte, suite.Constants().SecretSize)
	sender := newKeyScheduleEpoch(suite, 2, dup(epochSecret), []byte("ctx"))
	receiver := newKeyScheduleEpoch(suite, 2, dup(epochSecret), []byte("ctx"))

	pt := &MLSPlaintext{
		GroupID: []byte{0x00, 0x01},
		Epoch:   1,
		Sender:  Sender{SenderTypeMember, 0},
		Content: MLSPlaintextContent{
			Application: &ApplicationData{Data: make([]byte, 1024)},
		},
	}
	ctx := GroupContext{GroupID: []byte{0x00, 0x01}, Epoch: 1}
	if err := pt.Sign(suite, ctx, priv); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ct, err := sender.encryptPlaintext(0, pt)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := receiver.decryptCiphertext(ct); err != nil {
			b.Fatal(err)
		}
	}
}
