package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/abjtutorial/tutorbot/internal/domain"
)

const (
	textAdminOnlyNotice           = "You are not authorized to perform this action."
	textApprovedOnly              = "This feature is only available for approved members."
	textAlreadyApproved           = "You are already an approved member!"
	textAlreadyPending            = "Your payment is under review. Please wait for approval."
	textChooseOption              = "Choose an option below:"
	textInvalidName               = "Please enter a valid name."
	textScreenshotRequired        = "Please send your payment screenshot as a photo."
	textAlreadyProcessed          = "Request already processed or not found."
	textDecisionFailed            = "Error processing request. Please try again."
	textCommentGone               = "Comment no longer available or already replied."
	textReplySent                 = "Reply sent successfully!"
	textReplyFailed               = "Failed to send reply. User may have blocked the bot."
	textNoQuestions               = "No pending questions."
	textOperationCancelled        = "Operation cancelled."
	textOperationCancelledRestart = "Operation cancelled. Send /start to begin again."

	textRegistrationCancelled = "Registration Cancelled\n\n" +
		"Your registration has been cancelled.\n" +
		"You can start again anytime using /start\n\n" +
		"Thank you for your interest in ABJ Tutorial!"
	textQuestionCancelled     = "Question Cancelled\n\nYour question has been cancelled."
	textReplyCancelled        = "Reply Cancelled\n\nReply process has been cancelled."
	textAnnouncementCancelled = "Announcement Cancelled\n\nAnnouncement creation has been cancelled."

	textAskQuestion = "Ask a Question\n\n" +
		"Please type your question about:\n" +
		"• Course materials & content\n" +
		"• Study techniques\n" +
		"• Exam preparation\n" +
		"• Video tutorials\n" +
		"• Any academic concerns\n\n" +
		"Type your question below:"

	textQuestionSent = "Question Sent Successfully!\n\n" +
		"Our team will respond soon\n" +
		"Check your messages for replies\n\n" +
		"Thank you for your question!"

	textSelectCohort = "Send Announcement\n\nSelect which group should receive this announcement:"

	textApprovedDM = "PAYMENT APPROVED! WELCOME TO ABJ TUTORIAL!\n\n" +
		"Your payment has been verified!\n" +
		"You now have full access to our learning materials\n\n" +
		"Click below to join our main channel (one-time link):"

	textRejectedDM = "Payment Review Update\n\n" +
		"Unfortunately, we couldn't verify your payment\n\n" +
		"Possible reasons:\n" +
		"• Unclear screenshot\n" +
		"• Payment details didn't match\n" +
		"• Payment not received\n\n" +
		"Please check and try again"

	textClearedDM = "Payment Review Update\n\n" +
		"Your pending registration was closed by an admin.\n\n" +
		"Send /start to register again."

	textCommentExpiredDM = "Your question could not be answered in time.\n\n" +
		"Please ask it again from the menu."
)

const timeLayout = "2006-01-02 15:04:05"

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func welcomeText(firstName string) string {
	return fmt.Sprintf("🎓 Welcome to ABJ Tutorial Bot, %s!\n\n"+
		"Your Gateway to Academic Excellence!\n\n"+
		"ABJ Tutorial helps Ethiopian university freshmen achieve outstanding results with:\n"+
		"• Comprehensive Video Tutorials\n"+
		"• Past Exam Solutions\n"+
		"• Simplified Study Notes\n"+
		"• Audio Lessons\n"+
		"• Step-by-step Explanations\n\n"+
		"Join thousands of successful students who have improved their grades with ABJ Tutorial!", firstName)
}

func adminPanelText(firstName string) string {
	return fmt.Sprintf("Admin Control Panel\n\nWelcome back, %s!", firstName)
}

func approvedMenuText(firstName string, p domain.Profile) string {
	sem, stream := string(p.Semester), p.Stream
	if sem == "" {
		sem = "Not specified"
	}
	if stream == "" {
		stream = "Not specified"
	}
	return fmt.Sprintf("Welcome back %s!\n\nApproved Member\nSemester: %s\nStream: %s\n\n%s",
		firstName, sem, stream, textChooseOption)
}

func pendingText(firstName string) string {
	return fmt.Sprintf("Hello %s!\n\n"+
		"Payment Under Review\n\n"+
		"Your registration is being processed\n"+
		"Usually takes less than 24 hours\n"+
		"You'll get full access upon approval\n\n"+
		"We'll notify you immediately once approved!", firstName)
}

func registrationStartText(firstName string) string {
	return fmt.Sprintf("Welcome to ABJ Tutorial Registration!\n\n"+
		"Hello %s! Let's get you registered.\n\n"+
		"Please tell me your Full Name (as it appears on your university ID):", firstName)
}

func semesterPromptText(fullName string) string {
	return fmt.Sprintf("Welcome, %s!\n\nNow select your Semester:", fullName)
}

func streamPromptText(sem domain.Semester) string {
	return fmt.Sprintf("You selected: %s\n\nNow choose your Stream:", sem)
}

func genderPromptText(stream string) string {
	return fmt.Sprintf("You selected: %s\n\nWhat is your Gender?", stream)
}

func methodPromptText(gender string) string {
	return fmt.Sprintf("You selected: %s\n\nChoose your Payment Method:", gender)
}

func summaryText(p domain.Profile, m domain.PaymentMethod, paymentID string) string {
	return fmt.Sprintf("Registration Summary\n\n"+
		"Personal Details:\n"+
		"• Full Name: %s\n"+
		"• Semester: %s\n"+
		"• Stream: %s\n"+
		"• Gender: %s\n\n"+
		"Payment Information:\n"+
		"• Method: %s\n"+
		"• Payment ID: %s\n\n"+
		"Payment Instructions:\n"+
		"%s\n%s\n\n"+
		"Final Step: Send your payment screenshot as a photo.",
		p.FullName, p.Semester, p.Stream, p.Gender, m.Name, paymentID, m.Instructions, m.Account)
}

func submittedText(paymentID string) string {
	return fmt.Sprintf("Thank you for your submission!\n\n"+
		"Payment ID: %s\n\n"+
		"Your registration is under review\n"+
		"We'll notify you once approved (usually within 24 hours)\n\n"+
		"Thank you for choosing ABJ Tutorial!", paymentID)
}

func reviewCaption(s domain.Submission) string {
	return fmt.Sprintf("NEW PAYMENT REQUEST\n\n"+
		"Payment ID: %s\n"+
		"User: %s (@%s)\n"+
		"User ID: %d\n\n"+
		"Details:\n"+
		"• Name: %s\n"+
		"• Semester: %s\n"+
		"• Stream: %s\n"+
		"• Payment Method: %s\n\n"+
		"Time: %s",
		s.Payment.PaymentID, s.FirstName, orNA(s.Username), s.UserID,
		orNA(s.Profile.FullName), orNA(string(s.Profile.Semester)), orNA(s.Profile.Stream), orNA(s.Payment.Method),
		s.SubmittedAt.Format(timeLayout))
}

func decisionLog(s domain.Submission, approved bool, admin Actor, at time.Time) string {
	head, verb, tail := "USER REJECTED", "Rejected", "Payment verification failed"
	if approved {
		head, verb, tail = "USER APPROVED", "Approved", "Welcome to ABJ Tutorial!"
	}
	return fmt.Sprintf("%s\n\n"+
		"Student Information:\n"+
		"• Full Name: %s\n"+
		"• Telegram: @%s (%s)\n"+
		"• User ID: %d\n"+
		"• Semester: %s\n"+
		"• Stream: %s\n"+
		"• Gender: %s\n"+
		"• Payment Method: %s\n"+
		"• Payment ID: %s\n\n"+
		"%s by: @%s (%d)\n"+
		"Time: %s\n\n"+
		"%s",
		head,
		orNA(s.Profile.FullName), orNA(s.Username), orNA(s.FirstName), s.UserID,
		orNA(string(s.Profile.Semester)), orNA(s.Profile.Stream), orNA(s.Profile.Gender),
		orNA(s.Payment.Method), orNA(s.Payment.PaymentID),
		verb, orNA(admin.Username), admin.ID, at.Format(timeLayout), tail)
}

func gateNote(j MemberJoin, owner *domain.Invite, action string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚫 Unauthorized join blocked\n")
	name := strings.TrimSpace(j.User.FirstName)
	fmt.Fprintf(&b, "User: %s (@%s)\n", orNA(name), orNA(j.User.Username))
	fmt.Fprintf(&b, "User ID: %d\n", j.User.ID)
	fmt.Fprintf(&b, "Joined via invite link: %s\n", j.InviteLink)
	if owner != nil {
		fmt.Fprintf(&b, "Invite issued to: %d\n", owner.OwnerID)
	}
	fmt.Fprintf(&b, "Action: %s", action)
	return b.String()
}

func gateCheckFailedNote(j MemberJoin, owner *domain.Invite) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Join check failed\n")
	name := strings.TrimSpace(j.User.FirstName)
	fmt.Fprintf(&b, "User: %s (@%s)\n", orNA(name), orNA(j.User.Username))
	fmt.Fprintf(&b, "User ID: %d\n", j.User.ID)
	fmt.Fprintf(&b, "Joined via invite link: %s\n", j.InviteLink)
	if owner != nil {
		fmt.Fprintf(&b, "Invite issued to: %d\n", owner.OwnerID)
	}
	b.WriteString("Action: not removed, status lookup failed. Please review manually.")
	return b.String()
}

func helpText(c Contact) string {
	return fmt.Sprintf("ABJ Tutorial Help & Support\n\n"+
		"Available Features:\n"+
		"• Ask Question - Get help from our tutors\n"+
		"• Access learning materials\n"+
		"• Comprehensive course content\n\n"+
		"Contact Support:\n"+
		"Telegram: %s\n"+
		"Phone: %s\n\n"+
		"Support Hours:\n"+
		"Monday-Friday: 8:00 AM - 8:00 PM\n"+
		"Saturday-Sunday: 9:00 AM - 6:00 PM\n\n"+
		"We're here to help you succeed!", orNA(c.Username), orNA(c.Phone))
}

func questionForAdmins(c domain.Comment) string {
	return fmt.Sprintf("New Question from Student\n\n"+
		"Student: %s\n"+
		"Username: @%s\n"+
		"Semester: %s\n"+
		"Comment ID: %s\n\n"+
		"Question:\n%s",
		c.DisplayName, orNA(c.Username), orNA(string(c.Semester)), c.ID, c.Text)
}

func pendingQuestionText(c domain.Comment) string {
	return fmt.Sprintf("Pending Question\n\n"+
		"From: %s\n"+
		"Username: @%s\n"+
		"Semester: %s\n\n"+
		"Question:\n%s",
		orNA(c.DisplayName), orNA(c.Username), orNA(string(c.Semester)), c.Text)
}

func replyPromptText(c domain.Comment) string {
	return fmt.Sprintf("Reply to %s\n\nOriginal Question:\n%s\n\nType your reply below:", c.DisplayName, c.Text)
}

func replyDMText(name, reply string) string {
	return fmt.Sprintf("Reply from ABJ Tutorial\n\nHello %s!\n\n%s\n\nThank you for your question!", name, reply)
}

func announcementPromptText(c domain.Cohort) string {
	return fmt.Sprintf("Announcement for %s\n\nSend the announcement content (text or photo):", c.Label())
}

func announcementText(body string) string {
	return fmt.Sprintf("Announcement from ABJ Tutorial\n\n%s\n\nVisit our resources for more updates.", body)
}

func announcementSummary(c domain.Cohort, sent, failed int) string {
	return fmt.Sprintf("Announcement Sent Successfully!\n\nTarget: %s\nSuccessful: %d\nFailed: %d", c.Label(), sent, failed)
}

func statsText(st domain.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bot Statistics Dashboard\n\n")
	fmt.Fprintf(&b, "Users:\n")
	fmt.Fprintf(&b, "• Total: %d\n", st.Total)
	fmt.Fprintf(&b, "• Approved: %d\n", st.Approved)
	fmt.Fprintf(&b, "• Pending: %d\n", st.Pending)
	fmt.Fprintf(&b, "• Awaiting Review: %d\n\n", st.AwaitingReview)
	fmt.Fprintf(&b, "Pending Questions: %d\n\n", st.PendingQuestions)
	fmt.Fprintf(&b, "Semester Distribution:\n")
	for _, sem := range domain.Semesters {
		if n := st.BySemester[sem]; n > 0 {
			fmt.Fprintf(&b, "• %s: %d\n", sem, n)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func clearedText(n int) string {
	return fmt.Sprintf("Cleared %d pending payment requests.", n)
}

func digestText(subs []domain.Submission, olderThan time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pending Review Digest\n\n%d payment requests waiting longer than %s:\n", len(subs), olderThan)
	for _, s := range subs {
		fmt.Fprintf(&b, "• %s (%s) since %s\n", orNA(s.Profile.FullName), s.Payment.PaymentID, s.SubmittedAt.Format(timeLayout))
	}
	return strings.TrimRight(b.String(), "\n")
}
