package nostr

const (
	KindProfileMetadata        int = 0
	KindTextNote               int = 1
	KindEncryptedDirectMessage int = 4
	KindRelayListMetadata      int = 10002
	KindClientAuthentication   int = 22242
	KindNostrConnect           int = 24133
)
