// Package instagram talks to Instagram's web API on behalf of an
// authenticated session.
//
// It provides:
//   - Client, a paced and retrying HTTP client carrying the session cookies
//   - SavedFeed, a syncer.Feed over the saved collection, one page at a time
//   - Downloader, a syncer.Downloader writing records and media to disk
//   - Login and TwoFactorLogin, which turn a password into an auth.Session
//
// Example usage:
//
//	client := instagram.NewClient(30*time.Second, log)
//	client.SetSession(session)
//
//	feed := client.SavedFeed(session.UserID, 12)
//	for {
//	    item, err := feed.Next(ctx)
//	    if errors.Is(err, syncer.ErrFeedExhausted) {
//	        break
//	    }
//	    if err != nil {
//	        switch errs.TypeOf(err) {
//	        case errs.ErrorTypeAuth:
//	            // session expired, import fresh cookies
//	        case errs.ErrorTypeRateLimit:
//	            // try again later
//	        }
//	        return err
//	    }
//	    fmt.Println(item.Identifier)
//	}
package instagram
